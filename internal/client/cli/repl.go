package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// runFunc executes one command line split into arguments.
type runFunc func(ctx context.Context, args []string) error

// runREPL starts a read–eval–print loop over the synckit commands.
//
// Each line is split on whitespace and handed to run. Errors are printed
// and the loop continues. The loop exits on scanner EOF, when the user
// types "exit" or "quit", or when ctx is cancelled.
func runREPL(ctx context.Context, run runFunc, statusFn func() string, scanner *bufio.Scanner) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("synckit (%s) > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "shell":
			printlnFn("Already in the shell")
			continue
		}

		if err := run(ctx, parts); err != nil {
			printlnFn("Error:", err)
		}
	}
}

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/synckit/internal/buildinfo"
	"github.com/dmitrijs2005/synckit/internal/client/datastore"
	"github.com/dmitrijs2005/synckit/internal/client/models"
	"github.com/dmitrijs2005/synckit/internal/client/progress"
	"github.com/dmitrijs2005/synckit/internal/common"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree bound to a.
func NewRootCmd(a *App) *cobra.Command {
	var (
		storeType    string
		showProgress bool
	)

	root := &cobra.Command{
		Use:           "synckit",
		Short:         "Offline-first client for a document store backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVarP(&storeType, "type", "t", datastore.Cache.String(), "store type: sync, cache, network or auto")
	root.PersistentFlags().BoolVar(&showProgress, "progress", false, "report progress of long fetches on stderr")

	open := func(cmd *cobra.Command, collection string) (*datastore.DataStore[models.Entity], error) {
		typ, err := datastore.ParseStoreType(storeType)
		if err != nil {
			return nil, err
		}
		var onProgress progress.Func
		if showProgress {
			w := cmd.ErrOrStderr()
			onProgress = func(done, total int) { fmt.Fprintf(w, "\r%3d/%d", done, total) }
		}
		return a.dataStore(collection, typ, onProgress)
	}

	root.AddCommand(
		findCmd(a, open),
		getCmd(a, open),
		countCmd(a, open),
		saveCmd(a, open),
		removeCmd(a, open),
		pushCmd(a, open),
		pullCmd(a, open),
		syncCmd(a, open),
		purgeCmd(a, open),
		pendingCmd(a, open),
		clearCmd(a, open),
		loginCmd(a),
		logoutCmd(a),
		metricsCmd(a),
		shellCmd(a),
		versionCmd(),
	)
	return root
}

type opener func(cmd *cobra.Command, collection string) (*datastore.DataStore[models.Entity], error)

func findCmd(a *App, open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "find <collection>",
		Short: "List entities matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			ents, err := ds.Find(cmd.Context(), q, nil).Wait()
			if err != nil {
				return err
			}
			return printEntities(a.out, ents...)
		},
	}
	qf.register(cmd, true)
	return cmd
}

func getCmd(a *App, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			e, err := ds.FindByID(cmd.Context(), args[1], nil).Wait()
			if err != nil {
				return err
			}
			if e == nil {
				return common.NewError(common.KindNotFound, "entity not found")
			}
			return printEntities(a.out, *e)
		},
	}
}

func countCmd(a *App, open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "count <collection>",
		Short: "Count entities matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			n, err := ds.Count(cmd.Context(), q, nil).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
	qf.register(cmd, false)
	return cmd
}

func saveCmd(a *App, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "save <collection> <json|->",
		Short: "Create or update an entity; - reads the document from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			raw := []byte(args[1])
			if args[1] == "-" {
				if raw, err = io.ReadAll(bufio.NewReader(cmd.InOrStdin())); err != nil {
					return err
				}
			}
			var e models.Entity
			if err := json.Unmarshal(raw, &e); err != nil {
				return common.Wrap(common.KindInvalidOperation, "document is not a JSON object", err)
			}
			saved, err := ds.Save(cmd.Context(), e, nil).Wait()
			if err != nil {
				return err
			}
			return printEntities(a.out, saved)
		},
	}
}

func removeCmd(a *App, open opener) *cobra.Command {
	var (
		qf  queryFlags
		all bool
	)
	cmd := &cobra.Command{
		Use:   "remove <collection> [id]",
		Short: "Remove one entity by id or every entity matching --where",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			var n int
			if len(args) == 2 {
				n, err = ds.RemoveByID(cmd.Context(), args[1], nil).Wait()
			} else {
				q, qerr := qf.build()
				if qerr != nil {
					return qerr
				}
				if q == nil && !all {
					return common.NewError(common.KindInvalidOperation, "refusing to remove everything without --all")
				}
				n, err = ds.Remove(cmd.Context(), q, nil).Wait()
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d\n", n)
			return nil
		},
	}
	qf.register(cmd, false)
	cmd.Flags().BoolVar(&all, "all", false, "remove every entity of the collection")
	return cmd
}

func pushCmd(a *App, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "push <collection>",
		Short: "Send queued local changes to the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := ds.Push(cmd.Context(), nil).Wait()
			if err != nil {
				return err
			}
			printPush(a.out, res.Count, res.Errors)
			return nil
		},
	}
}

func pullCmd(a *App, open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "pull <collection>",
		Short: "Refresh the cache from the backend; fails while changes are queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			ents, err := ds.Pull(cmd.Context(), q, nil).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "pulled %d\n", len(ents))
			return nil
		},
	}
	qf.register(cmd, true)
	return cmd
}

func syncCmd(a *App, open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "sync <collection>",
		Short: "Push queued changes, then pull",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			res, err := ds.Sync(cmd.Context(), q, nil).Wait()
			printPush(a.out, res.PushCount, res.PushErrors)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "pulled %d\n", len(res.Entities))
			return nil
		},
	}
	qf.register(cmd, true)
	return cmd
}

func purgeCmd(a *App, open opener) *cobra.Command {
	var (
		qf   queryFlags
		pull bool
	)
	cmd := &cobra.Command{
		Use:   "purge <collection>",
		Short: "Discard every queued local change of a collection",
		Long: "Discard every queued local change of a collection together with its sync checkpoints.\n" +
			"Abandoned edits of server entities stay in the cache until the next fetch; pass --pull\n" +
			"to refetch right away. Query flags only scope that pull.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			n, err := ds.Purge(cmd.Context(), q, pull, nil).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "purged %d\n", n)
			return nil
		},
	}
	qf.register(cmd, false)
	cmd.Flags().BoolVar(&pull, "pull", false, "pull the collection (or the --where query) afterwards to drop abandoned edits")
	return cmd
}

func pendingCmd(a *App, open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pending <collection>",
		Short: "Count queued local changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			n, err := ds.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, n)
			return nil
		},
	}
}

func clearCmd(a *App, open opener) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "clear <collection>",
		Short: "Drop cached entities and sync checkpoints; queued changes are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := open(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := qf.build()
			if err != nil {
				return err
			}
			return ds.ClearCache(cmd.Context(), q)
		},
	}
	qf.register(cmd, false)
	return cmd
}

func loginCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in as a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.Login(cmd.Context())
		},
	}
}

func logoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the user session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.Logout(cmd.Context())
		},
	}
}

func metricsCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the counters collected by this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			families, err := a.reg.Gather()
			if err != nil {
				return err
			}
			for _, f := range families {
				for _, m := range f.GetMetric() {
					labels := make([]string, 0, len(m.GetLabel()))
					for _, l := range m.GetLabel() {
						labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
					}
					sort.Strings(labels)
					fmt.Fprintf(a.out, "%s{%s} %g\n", f.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
				}
			}
			return nil
		},
	}
}

func shellCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printlnFn("synckit shell (type 'help' for commands, 'exit' to leave)")
			runREPL(cmd.Context(), a.Execute, a.status, bufio.NewScanner(os.Stdin))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}

// Execute runs one command line against a fresh command tree.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := NewRootCmd(a)
	root.SetArgs(args)
	if a.out != nil {
		root.SetOut(a.out)
	}
	return root.ExecuteContext(ctx)
}

func printEntities(w io.Writer, ents ...models.Entity) error {
	enc := json.NewEncoder(w)
	for _, e := range ents {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func printPush(w io.Writer, count int, errs []error) {
	fmt.Fprintf(w, "pushed %d, failed %d\n", count, len(errs))
	for _, err := range errs {
		fmt.Fprintf(w, "  %v\n", err)
	}
}

package services

import (
	"fmt"

	"github.com/dmitrijs2005/synckit/internal/client/request"
	"github.com/dmitrijs2005/synckit/internal/common"
)

// ReadPolicy selects where a read is served from.
type ReadPolicy int

const (
	// LocalOnly reads the cache.
	LocalOnly ReadPolicy = iota
	// NetworkOnly reads the backend and merges the result into the cache.
	NetworkOnly
	// Both reads the cache, reports, then reads the backend and reports again.
	Both
)

func (p ReadPolicy) String() string {
	switch p {
	case LocalOnly:
		return "local"
	case NetworkOnly:
		return "network"
	case Both:
		return "both"
	}
	return fmt.Sprintf("ReadPolicy(%d)", int(p))
}

// WritePolicy selects where a write goes.
type WritePolicy int

const (
	// LocalThenNetwork writes the cache and the pending log, then sends the
	// request. A failed send leaves the pending entry for a later push.
	LocalThenNetwork WritePolicy = iota
	WriteLocalOnly
	WriteNetworkOnly
)

func (p WritePolicy) String() string {
	switch p {
	case LocalThenNetwork:
		return "local_then_network"
	case WriteLocalOnly:
		return "local"
	case WriteNetworkOnly:
		return "network"
	}
	return fmt.Sprintf("WritePolicy(%d)", int(p))
}

// Resolve returns the steps a read runs under policy, in order. A step
// the policy needs but the caller could not provide is an error, never a
// panic.
func Resolve[T any](policy ReadPolicy, local, network request.Func[T]) ([]request.Func[T], error) {
	switch policy {
	case LocalOnly:
		if local == nil {
			return nil, common.NewError(common.KindInvalidOperation, "local read not available")
		}
		return []request.Func[T]{local}, nil
	case NetworkOnly:
		if network == nil {
			return nil, common.NewError(common.KindInvalidOperation, "network read not available")
		}
		return []request.Func[T]{network}, nil
	case Both:
		if local == nil || network == nil {
			return nil, common.NewError(common.KindInvalidOperation, "read policy needs both local and network reads")
		}
		return []request.Func[T]{local, network}, nil
	}
	return nil, common.NewError(common.KindInvalidOperation, "unknown read policy "+policy.String())
}

package models

// PushResult reports a push: how many operations were acknowledged and the
// per-operation failures. A failed entry stays in the pending log.
type PushResult struct {
	Count  int
	Errors []error
}

// Failed reports whether at least one operation could not be replayed.
func (r PushResult) Failed() bool {
	return len(r.Errors) > 0
}

// SyncResult combines the push and the pull halves of a sync.
type SyncResult struct {
	PushCount  int
	PushErrors []error
	Entities   []Entity
}

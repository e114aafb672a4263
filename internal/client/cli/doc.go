// Package cli is the synckit command-line client.
//
// It wires configuration, the local store, the HTTP backend and the user
// session, and exposes the datastore operations as cobra commands:
//
//	find, get, count      read a collection (cache, network or both)
//	save, remove          write entities under the store type's write policy
//	push, pull, sync      move data between the cache and the backend
//	purge, pending        inspect and discard queued local changes
//	clear                 drop cached records and checkpoints
//	login, logout         manage the persisted user session
//	metrics, version      process counters and build stamp
//	shell                 an interactive loop running the commands above
//
// Flags owned by the configuration (-k, -u, -d, ...) are consumed by
// config.LoadConfig before cobra sees the arguments.
package cli

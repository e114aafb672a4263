// Package client talks to the remote document store over HTTP.
//
// # Overview
//
// The package provides:
//  1. Transport, the request/response contract, and HTTPTransport, its
//     net/http implementation. HTTPTransport applies the per-request
//     timeout, injects credentials from an auth.Provider, refreshes them once
//     and retries when the server answers 401, and retries idempotent GETs on
//     transient failures with exponential backoff.
//  2. Backend, the collection API used by the sync engine (find, count,
//     delta set, save, remove, aggregate, replay of pending operations), and
//     API, its implementation over a Transport.
//  3. MapError, which turns an error response into a typed *common.Error
//     using the server's error name first and the HTTP status second.
//
// # Error Handling
//
// Every failure is a *common.Error. Match with common.IsKind or errors.Is
// against the sentinels in package common.
//
// Concurrency & Contexts
//
// HTTPTransport and API are safe for concurrent use. All operations accept
// context.Context; cancelling it surfaces common.KindCancelled.
package client

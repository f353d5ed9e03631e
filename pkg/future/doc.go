// Package future provides a single-assignment asynchronous result container.
//
// A Future starts out pending and is completed exactly once, either with a
// value (SetResult) or with an error (SetError). Completion callbacks run in
// registration order on the goroutine that completes the future; a callback
// added after completion runs immediately on the caller's goroutine. Every
// callback runs exactly once.
//
// Futures also carry progress information (current value within a range plus
// a text) for long-running operations such as command groups.
//
// Inside the engine, futures are completed from the reactor goroutine, so
// callbacks observe a consistent view of connection and controller state.
// Goroutines outside the reactor use Wait or Ready to block on completion:
//
//	f := ctrl.ReadParameter(0, 3, 12)
//	res, err := f.Wait(ctx)
//
// A future rejected with an error that is never retrieved (via Result, Err or
// Wait) is reported through slog when it is garbage collected.
package future

// Package sessionkeeper coordinates client-side session state for
// token-authenticated backends. Every authenticated operation in an
// application asks the Coordinator for a usable handle; the Coordinator
// answers from an in-memory token cache whenever the access token has enough
// lifetime left, and otherwise coalesces all concurrent callers onto a single
// network refresh.
//
// The design goals, in order:
//
//  1. The steady-state path (cached session comfortably valid) performs zero
//     network calls and never blocks.
//  2. At most one refresh is ever in flight; concurrent callers share its
//     outcome.
//  3. A caller is never blocked past a configured bound. When a refresh hangs
//     or the circuit breaker is open, the caller receives a degraded handle
//     built from the last known tokens instead of waiting. Using a degraded
//     handle may fail; that failure flows through the caller's ordinary error
//     handling, not a special path.
//  4. Refresh failures never surface as errors from Acquire. The circuit
//     breaker records them and short-circuits further attempts for a cooldown
//     window.
//
// A minimal setup:
//
//	provider, _ := gotrue.New(gotrue.Config{BaseURL: authURL, APIKey: key})
//	coord, err := sessionkeeper.New(sessionkeeper.DefaultConfig(), provider,
//	    sessionkeeper.WithTokenStore(memorystore.New()),
//	)
//	if err != nil { log.Fatal(err) }
//	defer coord.Close()
//
//	handle, err := coord.Acquire(ctx)
//	if err != nil { /* no session at all: sign in */ }
//	doAuthenticatedCall(ctx, handle.AccessToken())
//
// Sessions can be persisted across restarts via the tokenstore backends
// (memorystore, filestore, redisstore), and other processes' token rotations
// can be adopted through AdoptExternalSession.
package sessionkeeper

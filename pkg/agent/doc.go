// Package agent runs one task against one backend and records the exchange
// in a named session.
//
// Invariants:
// - A run moves through Start, ContextIngested, SessionLoaded, RequestBuilt,
//   Dispatching and then one of Committed, CommitFailed or DispatchFailed before End.
//   No state is entered twice.
// - The session is written at most once per run, and only with a complete response.
// - An interrupted or failed dispatch leaves the stored transcript untouched.
// - There are no retries. Failures are returned to the caller.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Ingestor:   ingest.New(0),
//		Store:      store,
//		Dispatcher: agent.NewDispatcher(agent.DispatcherConfig{Timeout: 2 * time.Minute}),
//	})
//	result, err := runner.Run(ctx, agent.RunParams{
//		Task:    "summarize",
//		Session: "notes",
//		Backend: b,
//		Stdin:   os.Stdin,
//		Sink:    out,
//	})
//	_ = result
package agent

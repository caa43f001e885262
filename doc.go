// Package dartrt is a partitioned-global-address-space task runtime: tasks
// declare the global memory they read and write, and the runtime derives
// their execution order from those declarations instead of requiring
// tasks to be submitted in dependency order by hand.
//
// # Quick Start
//
//	rt := dartrt.NewRuntime(dartrt.RuntimeConfig{
//		NumaDomains:      2,
//		WorkersPerDomain: 4,
//	})
//	defer rt.Shutdown(context.Background())
//
//	producer, _ := rt.Submit(nil, func(ctx context.Context) error {
//		// write to addr
//		return nil
//	}, dartrt.SubmitOptions{
//		Deps: []dartrt.Dependency{{Addr: addr, Type: dartrt.DepOut}},
//	})
//
//	consumer, _ := rt.Submit(nil, func(ctx context.Context) error {
//		// read addr; the runtime already ordered this after producer
//		return nil
//	}, dartrt.SubmitOptions{
//		Deps: []dartrt.Dependency{{Addr: addr, Type: dartrt.DepIn}},
//	})
//
//	rt.Wait(context.Background(), consumer)
//
// # Key Concepts
//
// Task: a unit of work submitted with the set of GlobalAddr ranges it
// reads (DepIn) and writes (DepOut/DepInOut). The dependency engine orders
// conflicting accesses to the same address without the caller building a
// graph by hand.
//
// Phase: a monotonically increasing epoch. Dependency matching is scoped
// to a phase; NextPhase closes the current one across every participating
// unit before any task can register against the next.
//
// Transport: the one-sided get/put and tagged send/recv contract used for
// copy-in prefetch and remote-dependency notification. The runtime never
// assumes a specific network stack -- see the transport package.
//
// For more details, see the type aliases in types.go and their
// documentation in the core package.
package dartrt

package dartrt

import (
	"context"
	"sync"
)

var (
	globalMu  sync.Mutex
	globalRT  *Runtime
)

// InitGlobalRuntime constructs a process-wide default Runtime. Most
// programs only need one; InitGlobalRuntime/GetGlobalRuntime/
// ShutdownGlobalRuntime let callers that don't want to thread a *Runtime
// through their whole call graph share a single instance the way the
// reference task-runner library this one is modeled on does for its
// thread pool.
func InitGlobalRuntime(cfg RuntimeConfig) *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalRT != nil {
		return globalRT
	}
	globalRT = NewRuntime(cfg)
	return globalRT
}

// GetGlobalRuntime returns the runtime created by InitGlobalRuntime, or
// nil if it hasn't been called yet.
func GetGlobalRuntime() *Runtime {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalRT
}

// ShutdownGlobalRuntime shuts down and clears the global runtime. A no-op
// if InitGlobalRuntime was never called.
func ShutdownGlobalRuntime(ctx context.Context) error {
	globalMu.Lock()
	rt := globalRT
	globalRT = nil
	globalMu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Shutdown(ctx)
}

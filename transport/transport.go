// Package transport defines the boundary between the scheduler's remote
// engine and whatever moves bytes and control messages between units. The
// scheduler consumes this interface only; it never assumes a specific
// network stack. Loopback, in this package, is the reference
// implementation used by tests and single-process deployments.
package transport

import "context"

// UnitID identifies one participant in the distributed run. Units are
// numbered densely from zero.
type UnitID int32

// Handle represents an in-flight one-sided or two-sided operation. Callers
// choose between polling (Test) and blocking (Wait) to match the copy-in
// engine's wait strategies.
type Handle interface {
	// Test reports whether the operation has completed without blocking.
	Test() (done bool, err error)
	// Wait blocks until the operation completes.
	Wait(ctx context.Context) error
}

// Transport is the one-sided and two-sided communication contract the
// copy-in and remote-progress engines are built on. Implementations must
// be safe for concurrent use by every worker goroutine.
type Transport interface {
	// Get issues a one-sided read of size len(dst) from (unit, segment,
	// offset) into dst.
	Get(ctx context.Context, dst []byte, unit UnitID, segment uint64, offset uint64) (Handle, error)

	// Put issues a one-sided write of src into (unit, segment, offset).
	Put(ctx context.Context, unit UnitID, segment uint64, offset uint64, src []byte) (Handle, error)

	// Send issues a tagged two-sided send to unit.
	Send(ctx context.Context, unit UnitID, tag int32, data []byte) (Handle, error)

	// Recv issues a tagged two-sided receive from unit into buf.
	Recv(ctx context.Context, unit UnitID, tag int32, buf []byte) (Handle, error)

	// Barrier blocks until every unit has called Barrier for the current
	// epoch.
	Barrier(ctx context.Context) error

	// AllToAll exchanges send[i] with every other unit and fills recv[i]
	// with what each peer sent this unit, nonblocking: callers overlap it
	// with other work by running it in its own task.
	AllToAll(ctx context.Context, send [][]byte, recv [][]byte) error

	// MatchingBarrier blocks until every unit has finished registering
	// dependencies for the current phase, closing that phase's matching
	// epoch so no further remote dependency can be discovered for it.
	MatchingBarrier(ctx context.Context) error

	// NumUnits returns the number of participating units.
	NumUnits() int

	// LocalUnit returns this process's own unit id.
	LocalUnit() UnitID
}

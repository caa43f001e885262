package transport

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is an in-process Transport: every UnitID is simulated as a
// segment table inside the same Go process. It exists for tests, demos,
// and single-unit deployments, and is explicitly not a stand-in for a
// real RDMA, MPI, or gRPC based transport -- those are deployment
// concerns the scheduler never needs to know about, by design.
type Loopback struct {
	mu       sync.Mutex
	sharedMu *sync.Mutex
	local    UnitID
	units    int
	segments map[segKey][]byte
	inbox    map[inboxKey]chan []byte
	barrier  *epochBarrier
	matching *epochBarrier
}

type segKey struct {
	unit    UnitID
	segment uint64
}

type inboxKey struct {
	unit UnitID
	tag  int32
}

// NewLoopback constructs a Loopback transport simulating numUnits
// participants, with the caller acting as localUnit. Multiple Loopback
// values sharing a purpose must be wired together with NewLoopbackGroup so
// Get/Put/Send/Recv actually cross between them; a lone Loopback only
// serves local-unit traffic (a Get/Put addressed to its own UnitID).
func NewLoopback(local UnitID, numUnits int) *Loopback {
	return &Loopback{
		local:    local,
		units:    numUnits,
		segments: make(map[segKey][]byte),
		inbox:    make(map[inboxKey]chan []byte),
		barrier:  newEpochBarrier(numUnits),
		matching: newEpochBarrier(numUnits),
	}
}

// NewLoopbackGroup builds numUnits Loopback transports that share their
// segment table, inboxes and barriers, simulating numUnits units within
// one process.
func NewLoopbackGroup(numUnits int) []*Loopback {
	group := make([]*Loopback, numUnits)
	segments := make(map[segKey][]byte)
	inbox := make(map[inboxKey]chan []byte)
	var mu sync.Mutex
	barrier := newEpochBarrier(numUnits)
	matching := newEpochBarrier(numUnits)
	for i := 0; i < numUnits; i++ {
		group[i] = &Loopback{
			local:    UnitID(i),
			units:    numUnits,
			segments: segments,
			inbox:    inbox,
			barrier:  barrier,
			matching: matching,
		}
		group[i].muShared(&mu)
	}
	return group
}

// muShared overrides l's private mutex with a shared one so every unit in
// the group serializes access to the shared segment/inbox maps. Kept as a
// setter rather than a constructor field to keep NewLoopback's signature
// simple for the common single-unit case.
func (l *Loopback) muShared(shared *sync.Mutex) {
	l.sharedMu = shared
}

type loopbackHandle struct {
	done bool
	err  error
}

func (h *loopbackHandle) Test() (bool, error)                 { return h.done, h.err }
func (h *loopbackHandle) Wait(ctx context.Context) error      { return h.err }

func (l *Loopback) lock() {
	if l.sharedMu != nil {
		l.sharedMu.Lock()
		return
	}
	l.mu.Lock()
}

func (l *Loopback) unlock() {
	if l.sharedMu != nil {
		l.sharedMu.Unlock()
		return
	}
	l.mu.Unlock()
}

// Bind registers a segment's backing storage under this transport's own
// unit id, making it visible to Get/Put from other units in the group.
func (l *Loopback) Bind(segment uint64, data []byte) {
	l.lock()
	defer l.unlock()
	l.segments[segKey{unit: l.local, segment: segment}] = data
}

func (l *Loopback) Get(ctx context.Context, dst []byte, unit UnitID, segment uint64, offset uint64) (Handle, error) {
	l.lock()
	src, ok := l.segments[segKey{unit: unit, segment: segment}]
	l.unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: unit %d segment %d not bound", unit, segment)
	}
	if int(offset)+len(dst) > len(src) {
		return nil, fmt.Errorf("loopback: get out of range: offset=%d len=%d segsize=%d", offset, len(dst), len(src))
	}
	copy(dst, src[offset:offset+uint64(len(dst))])
	return &loopbackHandle{done: true}, nil
}

func (l *Loopback) Put(ctx context.Context, unit UnitID, segment uint64, offset uint64, src []byte) (Handle, error) {
	l.lock()
	dst, ok := l.segments[segKey{unit: unit, segment: segment}]
	l.unlock()
	if !ok {
		return nil, fmt.Errorf("loopback: unit %d segment %d not bound", unit, segment)
	}
	if int(offset)+len(src) > len(dst) {
		return nil, fmt.Errorf("loopback: put out of range: offset=%d len=%d segsize=%d", offset, len(src), len(dst))
	}
	copy(dst[offset:offset+uint64(len(src))], src)
	return &loopbackHandle{done: true}, nil
}

func (l *Loopback) Send(ctx context.Context, unit UnitID, tag int32, data []byte) (Handle, error) {
	l.lock()
	ch, ok := l.inbox[inboxKey{unit: unit, tag: tag}]
	if !ok {
		ch = make(chan []byte, 16)
		l.inbox[inboxKey{unit: unit, tag: tag}] = ch
	}
	l.unlock()
	cp := append([]byte(nil), data...)
	select {
	case ch <- cp:
		return &loopbackHandle{done: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loopback) Recv(ctx context.Context, unit UnitID, tag int32, buf []byte) (Handle, error) {
	l.lock()
	ch, ok := l.inbox[inboxKey{unit: l.local, tag: tag}]
	if !ok {
		ch = make(chan []byte, 16)
		l.inbox[inboxKey{unit: l.local, tag: tag}] = ch
	}
	l.unlock()
	select {
	case data := <-ch:
		copy(buf, data)
		return &loopbackHandle{done: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loopback) Barrier(ctx context.Context) error {
	return l.barrier.wait(ctx)
}

func (l *Loopback) MatchingBarrier(ctx context.Context) error {
	return l.matching.wait(ctx)
}

func (l *Loopback) AllToAll(ctx context.Context, send [][]byte, recv [][]byte) error {
	if len(send) != l.units || len(recv) != l.units {
		return fmt.Errorf("loopback: alltoall size mismatch: units=%d send=%d recv=%d", l.units, len(send), len(recv))
	}
	// Each sender uses its own tag, so recv[peer] is filled from what peer
	// sent rather than from whichever message reached this unit first.
	for peer := 0; peer < l.units; peer++ {
		if _, err := l.Send(ctx, UnitID(peer), alltoallTag-int32(l.local), send[peer]); err != nil {
			return err
		}
	}
	for peer := 0; peer < l.units; peer++ {
		if _, err := l.Recv(ctx, UnitID(peer), alltoallTag-int32(peer), recv[peer]); err != nil {
			return err
		}
	}
	return nil
}

// alltoallTag is the tag of unit 0's AllToAll messages; unit u sends with
// alltoallTag-u.
const alltoallTag int32 = -1000

func (l *Loopback) NumUnits() int    { return l.units }
func (l *Loopback) LocalUnit() UnitID { return l.local }

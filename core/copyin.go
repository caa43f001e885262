package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dash-hpc/dartrt/transport"
)

// CopyinMethod selects the transport primitive used to satisfy a copy-in
// request: a one-sided Get against the remote segment directly, or a
// tagged Send/Recv pair that requires the remote side to cooperate.
type CopyinMethod int

const (
	CopyinGet CopyinMethod = iota
	CopyinSendRecv
)

func (m CopyinMethod) String() string {
	if m == CopyinSendRecv {
		return "SENDRECV"
	}
	return "GET"
}

// WaitStrategy controls how the task that issued a copy-in request
// observes its completion.
type WaitStrategy int

const (
	// WaitBlock parks the requesting task's context until the transfer
	// completes.
	WaitBlock WaitStrategy = iota
	// WaitDetach issues the transfer and returns from Fetch without
	// waiting; the func Fetch returns blocks its caller until the transfer
	// completes. The requester's context is not released meanwhile.
	WaitDetach
	// WaitDetachInline is handled by Fetch exactly like WaitDetach; no
	// follow-up runs on the worker that observes completion.
	WaitDetachInline
	// WaitTestYield repeatedly polls Handle.Test, yielding the task
	// between polls so the worker can make progress on other work.
	WaitTestYield
)

// CopyinRequest declaratively describes one prefetch: bytes should land in
// Dst, sourced from Unit's Segment at Offset. If Dst is nil, Size bytes are
// borrowed from the engine's buffer pool instead (the COPYIN_R dependency
// type's "runtime-allocated destination" case), and Dst is assigned before
// the transfer is issued.
type CopyinRequest struct {
	Dst     []byte
	Size    int
	Unit    transport.UnitID
	Segment uint64
	Offset  uint64
	Method  CopyinMethod
	Wait    WaitStrategy
}

// sizeClasses are the power-of-two buffer sizes the pool recycles.
// Requests larger than the top class fall back to a direct allocation.
var sizeClasses = [...]int{256, 1024, 4096, 16384, 65536, 262144, 1048576}

func sizeClassIndex(n int) int {
	for i, c := range sizeClasses {
		if n <= c {
			return i
		}
	}
	return -1
}

// bufNode is one free buffer in a Treiber stack.
type bufNode struct {
	next *bufNode
	buf  []byte
}

// treiberStack is a lock-free free list: Push and Pop both retry a CAS
// against the head pointer, so concurrent workers can return and borrow
// buffers without a mutex.
type treiberStack struct {
	head atomic.Pointer[bufNode]
}

func (s *treiberStack) push(n *bufNode) {
	for {
		old := s.head.Load()
		n.next = old
		if s.head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (s *treiberStack) pop() *bufNode {
	for {
		old := s.head.Load()
		if old == nil {
			return nil
		}
		if s.head.CompareAndSwap(old, old.next) {
			old.next = nil
			return old
		}
	}
}

// bufferPool hands out reusable byte slices sized by sizeClasses, one
// Treiber stack per class, to avoid an allocation on every copy-in
// request.
type bufferPool struct {
	classes [len(sizeClasses)]treiberStack
}

func newBufferPool() *bufferPool { return &bufferPool{} }

func (p *bufferPool) get(n int) []byte {
	idx := sizeClassIndex(n)
	if idx < 0 {
		return make([]byte, n)
	}
	if node := p.classes[idx].pop(); node != nil {
		return node.buf[:n]
	}
	return make([]byte, n, sizeClasses[idx])
}

func (p *bufferPool) put(buf []byte) {
	idx := sizeClassIndex(cap(buf))
	if idx < 0 || cap(buf) != sizeClasses[idx] {
		return // not a pool-owned size, let GC reclaim it
	}
	p.classes[idx].push(&bufNode{buf: buf})
}

// copyinEngine issues declarative prefetches ahead of a task's dependency
// becoming runnable, so the bytes a task needs are already local by the
// time the scheduler dispatches it.
type copyinEngine struct {
	transport transport.Transport
	pool      *bufferPool
	metrics   Metrics
}

func newCopyinEngine(tr transport.Transport, metrics Metrics) *copyinEngine {
	if metrics == nil {
		metrics = NilMetrics{}
	}
	return &copyinEngine{transport: tr, pool: newBufferPool(), metrics: metrics}
}

// Fetch executes req according to its Wait strategy, returning once the
// destination bytes are ready (WaitBlock, WaitTestYield) or once the
// transfer has merely been issued (WaitDetach, WaitDetachInline -- in
// which case the returned func must be called to observe completion and
// it may block).
func (e *copyinEngine) Fetch(ctx context.Context, req CopyinRequest) (func() error, error) {
	if req.Dst == nil {
		if req.Size <= 0 {
			return nil, errInval("copyin.Fetch", fmt.Errorf("no destination buffer and no size to allocate one"))
		}
		req.Dst = e.pool.get(req.Size)
	}

	start := time.Now()
	handle, err := e.issue(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Wait {
	case WaitBlock:
		err := handle.Wait(ctx)
		e.metrics.RecordCopyinWait(req.Method.String(), time.Since(start))
		return func() error { return nil }, err

	case WaitTestYield:
		for {
			done, err := handle.Test()
			if err != nil {
				return nil, err
			}
			if done {
				e.metrics.RecordCopyinWait(req.Method.String(), time.Since(start))
				return func() error { return nil }, nil
			}
			if c := CurrentTask(ctx); c != nil {
				if err := Suspend(ctx); err != nil {
					return nil, err
				}
			}
		}

	case WaitDetach, WaitDetachInline:
		return func() error {
			err := handle.Wait(ctx)
			e.metrics.RecordCopyinWait(req.Method.String(), time.Since(start))
			return err
		}, nil

	default:
		return nil, errInval("copyin.Fetch", fmt.Errorf("unknown wait strategy %v", req.Wait))
	}
}

func (e *copyinEngine) issue(ctx context.Context, req CopyinRequest) (transport.Handle, error) {
	switch req.Method {
	case CopyinGet:
		return e.transport.Get(ctx, req.Dst, req.Unit, req.Segment, req.Offset)
	case CopyinSendRecv:
		tag := int32(req.Segment) ^ int32(req.Offset)
		return e.transport.Recv(ctx, req.Unit, tag, req.Dst)
	default:
		return nil, errInval("copyin.issue", fmt.Errorf("unknown copyin method %v", req.Method))
	}
}

// Borrow and Return let callers stage a transfer into a pooled buffer
// instead of a caller-owned destination, for internally generated
// communication tasks that own their buffer for one hop only.
func (e *copyinEngine) Borrow(n int) []byte { return e.pool.get(n) }
func (e *copyinEngine) Return(buf []byte)   { e.pool.put(buf) }

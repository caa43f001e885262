package core

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dash-hpc/dartrt/transport"
)

// remoteControlTag is the tagged-message channel used exclusively for
// dependency control traffic (task-done notifications), kept disjoint
// from any tag a copy-in SENDRECV transfer might use.
const remoteControlTag int32 = -2

// progressPollInterval bounds how long a single progress-loop Recv waits
// before giving the loop a chance to observe Stop.
const progressPollInterval = 5 * time.Millisecond

type remoteMsgKind int32

const (
	msgTaskDone remoteMsgKind = iota
)

// remoteMsg is the wire format for dependency control traffic: a fixed
// 32-byte record, encoded by hand with encoding/binary rather than a
// schema compiler, since a handful of int fields doesn't earn a
// generated-code dependency.
type remoteMsg struct {
	Kind    remoteMsgKind
	Unit    int32
	Segment uint64
	Offset  uint64
	Phase   int64
}

const remoteMsgWireSize = 4 + 4 + 8 + 8 + 8

func encodeRemoteMsg(m remoteMsg) []byte {
	buf := make([]byte, remoteMsgWireSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.Kind))
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Unit))
	binary.BigEndian.PutUint64(buf[8:16], m.Segment)
	binary.BigEndian.PutUint64(buf[16:24], m.Offset)
	binary.BigEndian.PutUint64(buf[24:32], uint64(m.Phase))
	return buf
}

func decodeRemoteMsg(buf []byte) remoteMsg {
	return remoteMsg{
		Kind:    remoteMsgKind(binary.BigEndian.Uint32(buf[0:4])),
		Unit:    int32(binary.BigEndian.Uint32(buf[4:8])),
		Segment: binary.BigEndian.Uint64(buf[8:16]),
		Offset:  binary.BigEndian.Uint64(buf[16:24]),
		Phase:   int64(binary.BigEndian.Uint64(buf[24:32])),
	}
}

// remoteEngine drives the blocking and nonblocking progress the
// dependency engine needs to observe remote task completions and to
// close a phase's matching epoch across every unit.
type remoteEngine struct {
	transport  transport.Transport
	dephash    *dephashEngine
	onRunnable func([]*Task)
	metrics    Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newRemoteEngine(tr transport.Transport, dephash *dephashEngine, onRunnable func([]*Task), metrics Metrics) *remoteEngine {
	if metrics == nil {
		metrics = NilMetrics{}
	}
	return &remoteEngine{
		transport:  tr,
		dephash:    dephash,
		onRunnable: onRunnable,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background progress loop that observes remote
// task-done notifications and feeds any newly runnable local successors
// back to the scheduler via onRunnable.
func (r *remoteEngine) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.progressLoop(ctx)
}

func (r *remoteEngine) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *remoteEngine) progressLoop(ctx context.Context) {
	defer r.wg.Done()
	buf := make([]byte, remoteMsgWireSize)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(ctx, progressPollInterval)
		handle, err := r.transport.Recv(recvCtx, r.transport.LocalUnit(), remoteControlTag, buf)
		if err != nil {
			cancel()
			continue
		}
		err = handle.Wait(recvCtx)
		cancel()
		if err != nil {
			continue
		}

		msg := decodeRemoteMsg(buf)
		switch msg.Kind {
		case msgTaskDone:
			addr := GlobalAddr{Unit: msg.Unit, Segment: msg.Segment, Offset: msg.Offset}
			if runnable := r.dephash.ResolveDummy(addr, msg.Phase); len(runnable) > 0 && r.onRunnable != nil {
				r.onRunnable(runnable)
			}
		}
	}
}

// NotifyTaskDone broadcasts addr's completion in phase to every other
// unit, so any dummy placeholder they registered for it can be resolved.
// Called once a task that produced a remotely-visible address finishes.
func (r *remoteEngine) NotifyTaskDone(ctx context.Context, addr GlobalAddr, phase int64) error {
	msg := encodeRemoteMsg(remoteMsg{Kind: msgTaskDone, Unit: addr.Unit, Segment: addr.Segment, Offset: addr.Offset, Phase: phase})
	for u := 0; u < r.transport.NumUnits(); u++ {
		peer := transport.UnitID(u)
		if peer == r.transport.LocalUnit() {
			continue
		}
		if _, err := r.transport.Send(ctx, peer, remoteControlTag, msg); err != nil {
			return err
		}
	}
	return nil
}

// ClosePhase blocks until every unit has finished registering
// dependencies for phase, then discards the phase's local matching state.
// This is the one genuinely blocking operation in the remote engine: no
// unit can safely believe a phase's dependency graph is complete until
// every other unit has said so too.
func (r *remoteEngine) ClosePhase(ctx context.Context, phase int64) error {
	start := time.Now()
	if err := r.transport.MatchingBarrier(ctx); err != nil {
		return errOther("remote.ClosePhase", err)
	}
	r.dephash.ClosePhase(phase)
	r.metrics.RecordMatchingRound(phase, time.Since(start))
	return nil
}

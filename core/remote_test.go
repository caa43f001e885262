package core

import (
	"context"
	"testing"
	"time"

	"github.com/dash-hpc/dartrt/transport"
)

func TestRemoteMsg_EncodeDecodeRoundTrip(t *testing.T) {
	want := remoteMsg{Kind: msgTaskDone, Unit: 3, Segment: 42, Offset: 128, Phase: 7}
	got := decodeRemoteMsg(encodeRemoteMsg(want))
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestRemoteEngine_NotifyTaskDoneResolvesDummyOnPeer(t *testing.T) {
	group := transport.NewLoopbackGroup(2)
	dephash := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 1, Segment: 9, Offset: 0}

	waiter := &Task{name: "waiter", state: StateCreated}
	dephash.RegisterRemoteWaiter(waiter, addr, DepIn, 0)

	var gotRunnable []*Task
	done := make(chan struct{})
	engine := newRemoteEngine(group[1], dephash, func(ts []*Task) {
		gotRunnable = ts
		close(done)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	sender := newRemoteEngine(group[0], newDephashEngine(nil), nil, nil)
	if err := sender.NotifyTaskDone(context.Background(), addr, 0); err != nil {
		t.Fatalf("NotifyTaskDone failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("progressLoop never resolved the dummy waiter")
	}
	if len(gotRunnable) != 1 || gotRunnable[0] != waiter {
		t.Fatalf("onRunnable got %v, want [waiter]", gotRunnable)
	}
}

func TestRemoteEngine_StopDrainsProgressLoop(t *testing.T) {
	group := transport.NewLoopbackGroup(1)
	engine := newRemoteEngine(group[0], newDephashEngine(nil), nil, nil)
	engine.Start(context.Background())
	engine.Stop() // must return, not hang
}

func TestRemoteEngine_ClosePhaseDiscardsLocalState(t *testing.T) {
	group := transport.NewLoopbackGroup(1)
	dephash := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 1, Offset: 0}
	dephash.Register(&Task{state: StateCreated}, addr, DepOut, 3)

	engine := newRemoteEngine(group[0], dephash, nil, nil)
	if err := engine.ClosePhase(context.Background(), 3); err != nil {
		t.Fatalf("ClosePhase failed: %v", err)
	}

	shard := dephash.shardFor(addr)
	shard.mu.Lock()
	_, exists := shard.entries[addrKey{addr: addr, phase: 3}]
	shard.mu.Unlock()
	if exists {
		t.Fatal("ClosePhase should have discarded phase 3's dependency state")
	}
}

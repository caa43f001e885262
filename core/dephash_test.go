package core

import "testing"

func finishedTask(name string) *Task {
	return &Task{name: name, state: StateFinished}
}

func TestDephash_ReadAfterWrite(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 1, Offset: 0}

	writer := &Task{name: "writer", state: StateCreated}
	e.Register(writer, addr, DepOut, 0)

	reader := &Task{name: "reader", state: StateCreated}
	added := e.Register(reader, addr, DepIn, 0)
	if added != 1 {
		t.Fatalf("expected reader to gain 1 predecessor edge, got %d", added)
	}
	if reader.unresolvedDeps.Load() != 1 {
		t.Fatalf("reader.unresolvedDeps = %d, want 1", reader.unresolvedDeps.Load())
	}

	runnable := e.Release(writer)
	if len(runnable) != 1 || runnable[0] != reader {
		t.Fatalf("releasing writer should make reader runnable, got %v", runnable)
	}
	if !reader.runnable() {
		t.Fatal("reader should be runnable after its only predecessor released")
	}
}

func TestDephash_WriteAfterWrite(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 2, Offset: 8}

	w1 := &Task{name: "w1", state: StateCreated}
	e.Register(w1, addr, DepOut, 0)

	w2 := &Task{name: "w2", state: StateCreated}
	added := e.Register(w2, addr, DepOut, 0)
	if added != 1 {
		t.Fatalf("second writer should be ordered after the first, got %d predecessors", added)
	}

	runnable := e.Release(w1)
	if len(runnable) != 1 || runnable[0] != w2 {
		t.Fatal("releasing w1 should free w2")
	}
}

func TestDephash_WriteAfterRead(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 3, Offset: 0}

	r1 := &Task{name: "r1", state: StateCreated}
	r2 := &Task{name: "r2", state: StateCreated}
	e.Register(r1, addr, DepIn, 0)
	e.Register(r2, addr, DepIn, 0)

	w := &Task{name: "w", state: StateCreated}
	added := e.Register(w, addr, DepOut, 0)
	if added != 2 {
		t.Fatalf("writer should be ordered after every outstanding reader, got %d", added)
	}

	if runnable := e.Release(r1); len(runnable) != 0 {
		t.Fatal("writer should not be runnable until all readers release")
	}
	runnable := e.Release(r2)
	if len(runnable) != 1 || runnable[0] != w {
		t.Fatal("writer should become runnable once the last reader releases")
	}
}

func TestDephash_FinishedPredecessorAddsNoEdge(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 4, Offset: 0}

	writer := finishedTask("writer")
	e.Register(writer, addr, DepOut, 0)

	reader := &Task{name: "reader", state: StateCreated}
	added := e.Register(reader, addr, DepIn, 0)
	if added != 0 {
		t.Fatalf("a finished predecessor must not add a new edge, got %d", added)
	}
	if !reader.runnable() {
		t.Fatal("reader should be immediately runnable since its predecessor already finished")
	}
}

func TestDephash_RemoteWaiterAndResolveDummy(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 1, Segment: 5, Offset: 0}

	task := &Task{name: "consumer", state: StateCreated}
	e.RegisterRemoteWaiter(task, addr, DepIn, 0)
	if task.unresolvedRemoteDeps.Load() != 1 {
		t.Fatalf("unresolvedRemoteDeps = %d, want 1", task.unresolvedRemoteDeps.Load())
	}
	if task.runnable() {
		t.Fatal("task should not be runnable while a remote dep is outstanding")
	}

	runnable := e.ResolveDummy(addr, 0)
	if len(runnable) != 1 || runnable[0] != task {
		t.Fatalf("ResolveDummy should free the waiting task, got %v", runnable)
	}
	if !task.runnable() {
		t.Fatal("task should be runnable once its remote dep resolves")
	}
}

func TestDephash_ResolveDummy_NoEntryIsNoop(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 99, Offset: 0}
	if runnable := e.ResolveDummy(addr, 0); runnable != nil {
		t.Fatal("ResolveDummy on an unknown address should return nil")
	}
}

func TestDephash_ClosePhase(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 6, Offset: 0}
	e.Register(&Task{state: StateCreated}, addr, DepOut, 0)

	e.ClosePhase(0)

	shard := e.shardFor(addr)
	shard.mu.Lock()
	_, exists := shard.entries[addrKey{addr: addr, phase: 0}]
	shard.mu.Unlock()
	if exists {
		t.Fatal("ClosePhase should discard every entry for that phase")
	}
}

func TestDephash_PhasesAreIsolated(t *testing.T) {
	e := newDephashEngine(nil)
	addr := GlobalAddr{Unit: 0, Segment: 7, Offset: 0}

	phase0Writer := &Task{name: "phase0", state: StateCreated}
	e.Register(phase0Writer, addr, DepOut, 0)

	phase1Reader := &Task{name: "phase1", state: StateCreated}
	added := e.Register(phase1Reader, addr, DepIn, 1)
	if added != 0 {
		t.Fatal("a dependency in a different phase must not be ordered against phase 0's writer")
	}
}

package core

import "testing"

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateNascent:   "NASCENT",
		StateRunning:   "RUNNING",
		StateFinished:  "FINISHED",
		StateDummy:     "DUMMY",
		State(99):      "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPriority_QueueClass(t *testing.T) {
	if PriorityHigh.queueClass() != queueHigh {
		t.Error("PriorityHigh should map to queueHigh")
	}
	for _, p := range []Priority{PriorityLow, PriorityDefault} {
		if p.queueClass() != queueLow {
			t.Errorf("%v should map to queueLow", p)
		}
	}
}

func TestFlags_Has(t *testing.T) {
	f := FlagInline | FlagCommTask
	if !f.has(FlagInline) {
		t.Error("expected FlagInline set")
	}
	if f.has(FlagImmediate) {
		t.Error("did not expect FlagImmediate set")
	}
}

func TestTaskID_Unique(t *testing.T) {
	a := TaskID{Index: nextTaskIndex()}
	b := TaskID{Index: nextTaskIndex()}
	if a.Index == b.Index {
		t.Fatal("expected distinct task indices")
	}
	if a.IsZero() {
		t.Error("non-zero index should not report IsZero")
	}
	var zero TaskID
	if !zero.IsZero() {
		t.Error("zero-value TaskID should report IsZero")
	}
}

func TestTask_PayloadInline(t *testing.T) {
	task := &Task{}
	task.setPayload([]byte("hello"))
	if got := string(task.Payload()); got != "hello" {
		t.Errorf("Payload() = %q, want %q", got, "hello")
	}
	if task.flags.has(FlagDataAllocated) {
		t.Error("small payload should not set FlagDataAllocated")
	}
}

func TestTask_PayloadHeap(t *testing.T) {
	task := &Task{}
	big := make([]byte, inlinePayloadBudget+1)
	for i := range big {
		big[i] = byte(i)
	}
	task.setPayload(big)
	if !task.flags.has(FlagDataAllocated) {
		t.Error("oversized payload should set FlagDataAllocated")
	}
	if got := task.Payload(); len(got) != len(big) {
		t.Fatalf("Payload() length = %d, want %d", len(got), len(big))
	}
}

func TestTask_StateTransitions(t *testing.T) {
	task := &Task{state: StateCreated}
	if !task.casState(StateCreated, StateQueued) {
		t.Fatal("expected CAS from CREATED to QUEUED to succeed")
	}
	if task.casState(StateCreated, StateRunning) {
		t.Fatal("expected CAS from stale state to fail")
	}
	if task.State() != StateQueued {
		t.Errorf("State() = %v, want QUEUED", task.State())
	}
}

func TestTask_ChildAccounting(t *testing.T) {
	parent := &Task{}
	parent.addChild()
	parent.addChild()
	if parent.NumChildren() != 2 {
		t.Fatalf("NumChildren() = %d, want 2", parent.NumChildren())
	}
	parent.releaseChild()
	if parent.NumChildren() != 1 {
		t.Fatalf("NumChildren() = %d, want 1", parent.NumChildren())
	}
}

func TestTask_JoinWaitWakesExactlyOnLastRelease(t *testing.T) {
	parent := &Task{}
	parent.addChild()
	parent.addChild()

	if !parent.beginJoinWait() {
		t.Fatal("beginJoinWait should report true with children still outstanding")
	}
	if !parent.blockedOnJoin() {
		t.Fatal("blockedOnJoin should report true once armed")
	}

	if _, woken := parent.releaseChild(); woken {
		t.Fatal("releasing the first of two children should not wake a join wait")
	}
	if !parent.blockedOnJoin() {
		t.Fatal("blockedOnJoin should still report true with one child left")
	}

	if _, woken := parent.releaseChild(); !woken {
		t.Fatal("releasing the last child should wake the join wait")
	}
	if parent.blockedOnJoin() {
		t.Fatal("blockedOnJoin should report false once woken")
	}
}

func TestTask_BeginJoinWaitFalseWhenNoChildrenOutstanding(t *testing.T) {
	task := &Task{}
	if task.beginJoinWait() {
		t.Fatal("beginJoinWait should report false with no outstanding children")
	}
	if task.blockedOnJoin() {
		t.Fatal("blockedOnJoin should report false when beginJoinWait never armed it")
	}
}

func TestTask_YieldDelay_SetTakeIsOneShot(t *testing.T) {
	task := &Task{}
	if _, ok := task.takeYieldDelay(); ok {
		t.Fatal("takeYieldDelay should report false before any setYieldDelay")
	}
	task.setYieldDelay(3)
	delay, ok := task.takeYieldDelay()
	if !ok || delay != 3 {
		t.Fatalf("takeYieldDelay() = (%d, %v), want (3, true)", delay, ok)
	}
	if _, ok := task.takeYieldDelay(); ok {
		t.Fatal("takeYieldDelay should consume the delay exactly once")
	}
}

func TestTask_Runnable(t *testing.T) {
	task := &Task{}
	if !task.runnable() {
		t.Fatal("a task with no deps should be runnable")
	}
	task.unresolvedDeps.Store(1)
	if task.runnable() {
		t.Fatal("a task with an outstanding local dep should not be runnable")
	}
	task.unresolvedDeps.Store(0)
	task.unresolvedRemoteDeps.Store(1)
	if task.runnable() {
		t.Fatal("a task with an outstanding remote dep should not be runnable")
	}
}

func TestTask_Name(t *testing.T) {
	task := &Task{id: TaskID{Index: 42}}
	if task.Name() != task.id.String() {
		t.Errorf("Name() should fall back to the id string when unset")
	}
	task.name = "producer"
	if task.Name() != "producer" {
		t.Errorf("Name() = %q, want %q", task.Name(), "producer")
	}
}

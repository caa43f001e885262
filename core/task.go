package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a task's position in the lifecycle described by the data model:
// CREATED after dep registration, QUEUED/DEFERRED once runnability is
// known, RUNNING while held by exactly one worker, and one terminal state
// (FINISHED or CANCELLED) before DESTROYED.
type State int32

const (
	StateNascent State = iota
	StateCreated
	StateQueued
	StateDeferred
	StateRunning
	StateSuspended
	StateBlocked
	StateDetached
	StateFinished
	StateCancelled
	StateDestroyed
	StateRoot
	StateDummy
)

func (s State) String() string {
	switch s {
	case StateNascent:
		return "NASCENT"
	case StateCreated:
		return "CREATED"
	case StateQueued:
		return "QUEUED"
	case StateDeferred:
		return "DEFERRED"
	case StateRunning:
		return "RUNNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateBlocked:
		return "BLOCKED"
	case StateDetached:
		return "DETACHED"
	case StateFinished:
		return "FINISHED"
	case StateCancelled:
		return "CANCELLED"
	case StateDestroyed:
		return "DESTROYED"
	case StateRoot:
		return "ROOT"
	case StateDummy:
		return "DUMMY"
	default:
		return "UNKNOWN"
	}
}

// Priority is a task's scheduling priority. PriorityParent and
// PriorityInline are pseudo-priorities resolved at creation time:
// PriorityParent inherits the parent task's real priority, and
// PriorityInline marks a task that runs on the creator's own stack without
// a context (Submit sets FlagInline for it).
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
	PriorityParent
	PriorityInline
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityDefault:
		return "DEFAULT"
	case PriorityHigh:
		return "HIGH"
	case PriorityParent:
		return "PARENT"
	case PriorityInline:
		return "INLINE"
	default:
		return "UNKNOWN"
	}
}

// PriorityCopyin is the priority a copy-in's own communication task runs
// at, mirroring COPYIN_TASK_PRIO (one below the implementation's absolute
// maximum): HIGH is the highest of this runtime's three real priorities, so
// a copy-in still outruns DEFAULT-priority computation the way the
// grounding source's numerically-higher COPYIN_TASK_PRIO does.
const PriorityCopyin = PriorityHigh

// queueClass maps a resolved (real) priority onto the two-tier NUMA queue.
func (p Priority) queueClass() queueClass {
	if p == PriorityHigh {
		return queueHigh
	}
	return queueLow
}

// Flags are independent task attributes, combined as a bitset.
type Flags uint8

const (
	FlagHasRef Flags = 1 << iota
	FlagInline
	FlagImmediate
	FlagCommTask
	FlagNoYield
	FlagDataAllocated
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// TaskID is a task's identity. Index comes from a process-wide counter, so
// it is unique per descriptor; descriptors are never reused and nothing
// changes Instance, which stays zero.
type TaskID struct {
	Index    uint64
	Instance uint32
}

func (id TaskID) IsZero() bool { return id.Index == 0 && id.Instance == 0 }

func (id TaskID) String() string {
	return fmt.Sprintf("task#%d.%d", id.Index, id.Instance)
}

var taskIDCounter atomic.Uint64

func nextTaskIndex() uint64 { return taskIDCounter.Add(1) }

// Fn is the user work function for a task body.
type Fn func(ctx context.Context) error

// inlinePayloadBudget is the size below which a task's payload is stored
// inline in the descriptor rather than heap-allocated (FlagDataAllocated).
const inlinePayloadBudget = 64

// Task is the unit of work. Its address is stable for the task's lifetime;
// Submit allocates every descriptor fresh and none is ever reused.
type Task struct {
	mu sync.Mutex // guards state, successors, joinWaiting and the yield delay

	id    TaskID
	owner int // not set by Submit; always 0

	state State

	parent      *Task
	numChildren atomic.Int32

	fn            Fn
	inlinePayload [inlinePayloadBudget]byte
	heapPayload   []byte
	payloadLen    int

	priority Priority
	flags    Flags
	phase    int64
	name     string

	unresolvedDeps       atomic.Int32
	unresolvedRemoteDeps atomic.Int32

	depsOwned  *depRecord // linked list of dep records this task owns, guarded by mu
	successors []*Task    // tasks waiting on this task's completion, guarded by mu

	// joinWaiting is true while a goroutine is parked in TaskWait, pending
	// an explicit wake from releaseChild reaching zero. Guarded by mu so the
	// check-then-park in beginJoinWait can never race past a concurrent
	// releaseChild and miss the wake.
	joinWaiting bool

	// yieldDelay and hasYieldDelay record a pending Yield's requested
	// requeue position, consumed (and cleared) the next time this task is
	// requeued after a plain cooperative suspend. Guarded by mu.
	yieldDelay    int
	hasYieldDelay bool

	ctx *taskContext // execution context; nil until first suspend

	cancelled atomic.Bool

	doneCh chan struct{} // closed exactly once, when state reaches FINISHED or CANCELLED

	numaDomain int
}

// Payload returns the bytes attached to the task at creation.
func (t *Task) Payload() []byte {
	if t.flags.has(FlagDataAllocated) {
		return t.heapPayload
	}
	return t.inlinePayload[:t.payloadLen]
}

func (t *Task) setPayload(data []byte) {
	if len(data) <= inlinePayloadBudget {
		copy(t.inlinePayload[:], data)
		t.payloadLen = len(data)
		return
	}
	t.heapPayload = append([]byte(nil), data...)
	t.flags |= FlagDataAllocated
}

// ID returns the task's stable identity.
func (t *Task) ID() TaskID { return t.id }

// Name returns the task's descriptor string, or a generated fallback.
func (t *Task) Name() string {
	if t.name != "" {
		return t.name
	}
	return t.id.String()
}

// State returns the task's current lifecycle state under its per-task lock.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// casState transitions the task from `from` to `to`, returning false (and
// leaving the state untouched) if the task was not in `from`.
func (t *Task) casState(from, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return false
	}
	t.state = to
	return true
}

// Phase returns the phase number this task was submitted under. Meaningful
// only for top-level tasks (parent == root).
func (t *Task) Phase() int64 { return t.phase }

// IsInline reports whether the task runs on the creator's stack without a
// context and cannot suspend.
func (t *Task) IsInline() bool { return t.flags.has(FlagInline) }

// IsImmediate reports whether the task runs eagerly at submission once its
// deps are satisfied, bypassing the queue.
func (t *Task) IsImmediate() bool { return t.flags.has(FlagImmediate) }

// IsCommTask reports whether this is an internally generated communication
// task (copy-in GET/SEND, dummy join point).
func (t *Task) IsCommTask() bool { return t.flags.has(FlagCommTask) }

// Cancelled reports whether Runtime.Cancel has been called on this task.
// The flag is per task; the runtime reads it only in complete, to record
// CANCELLED as the final state. Neither Yield nor dispatch checks it.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// NumChildren returns the current child count; invariant: non-negative at
// all times, returns to zero exactly once over the task's lifetime.
func (t *Task) NumChildren() int32 { return t.numChildren.Load() }

func (t *Task) addChild() { t.numChildren.Add(1) }

// releaseChild decrements the parent's child count on a child's
// completion, as task_complete's join requires. woken reports whether this
// release is the one a parked TaskWait call (see beginJoinWait) was
// waiting for, so the caller knows to re-queue it.
func (t *Task) releaseChild() (remaining int32, woken bool) {
	t.mu.Lock()
	remaining = t.numChildren.Add(-1)
	if remaining == 0 && t.joinWaiting {
		t.joinWaiting = false
		woken = true
	}
	t.mu.Unlock()
	return remaining, woken
}

// beginJoinWait reports whether the task must suspend to wait on its
// children: false if none are currently outstanding. When it returns true
// the task is armed to receive releaseChild's wake, checked under the same
// lock as the child-count read so no wake between the check and the park
// can be missed.
func (t *Task) beginJoinWait() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.numChildren.Load() == 0 {
		return false
	}
	t.joinWaiting = true
	return true
}

// blockedOnJoin reports whether the task is currently parked awaiting an
// explicit wake from beginJoinWait's arming, as opposed to a plain
// cooperative yield the scheduler should re-poll immediately.
func (t *Task) blockedOnJoin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joinWaiting
}

// setYieldDelay records the requeue position a following Yield-driven
// suspend should use once the scheduler picks this task back up.
func (t *Task) setYieldDelay(delay int) {
	t.mu.Lock()
	t.yieldDelay = delay
	t.hasYieldDelay = true
	t.mu.Unlock()
}

// takeYieldDelay consumes and clears any pending yield delay set by
// setYieldDelay, reporting whether one was present.
func (t *Task) takeYieldDelay() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasYieldDelay {
		return 0, false
	}
	t.hasYieldDelay = false
	return t.yieldDelay, true
}

// runnable reports whether both local and remote predecessor counters have
// reached zero. Both counters are monotone non-increasing once set and
// reach zero at most once.
func (t *Task) runnable() bool {
	return t.unresolvedDeps.Load() == 0 && t.unresolvedRemoteDeps.Load() == 0
}

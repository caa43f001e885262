package core

import (
	"fmt"
	"sync"
)

// GlobalAddr names a byte range in the partitioned global address space: a
// owning unit, the segment (allocation) within that unit, and a byte
// offset within the segment. Two dependencies conflict only when their
// GlobalAddr values are equal -- there is no sub-segment overlap analysis.
type GlobalAddr struct {
	Unit    int32
	Segment uint64
	Offset  uint64
}

func (a GlobalAddr) String() string {
	return fmt.Sprintf("%d:%d+%#x", a.Unit, a.Segment, a.Offset)
}

// DepType classifies one task's access to a GlobalAddr.
type DepType int

const (
	DepIn    DepType = iota // read: ordered after the address's last writer
	DepOut                  // write: ordered after the last writer and all readers since
	DepInOut                // read-modify-write: treated as DepOut for ordering purposes

	// DepCopyin and DepCopyinR are the dependency types a consumer declares
	// to request a copy-in; Submit expands either into a scheduled
	// communication task and rewrites the consumer's own dependency to a
	// plain DepIn ordered after it (see Runtime.issueCopyinTask in
	// scheduler.go). Submit handles the two types alike: the transfer lands
	// in the request's Dst either way.
	DepCopyin
	DepCopyinR
	// DepCopyinOut is installed by a copy-in's own communication task as
	// the address's new writer, exactly like DepOut/DepInOut for ordering
	// purposes, so whatever the consumer is rewritten to wait on is
	// ordered after the transfer.
	DepCopyinOut
	// DepDelayedIn names the dependency a SENDRECV copy-in's deferred SEND
	// task holds on its source address. This runtime creates no such SEND
	// task, so nothing registers one; Register treats it as read-shaped.
	DepDelayedIn
	// DepDirect marks a dependency record installed without going through
	// phase-keyed matching at all -- reserved for a future direct-mode
	// transport path; nothing in this runtime registers one yet.
	DepDirect
)

func (t DepType) String() string {
	switch t {
	case DepIn:
		return "IN"
	case DepOut:
		return "OUT"
	case DepInOut:
		return "INOUT"
	case DepCopyin:
		return "COPYIN"
	case DepCopyinR:
		return "COPYIN_R"
	case DepCopyinOut:
		return "COPYIN_OUT"
	case DepDelayedIn:
		return "DELAYED_IN"
	case DepDirect:
		return "DIRECT"
	default:
		return "UNKNOWN"
	}
}

// isWriter reports whether typ installs its registrant as an address's new
// last writer (clearing the reader set), rather than appending it to the
// reader set behind the current writer.
func (t DepType) isWriter() bool {
	return t == DepOut || t == DepInOut || t == DepCopyinOut
}

// depRecord is one entry in a task's depsOwned list: it remembers which
// (addr, phase, type) the task registered against. Nothing in the runtime
// reads the list back.
type depRecord struct {
	next  *depRecord
	addr  GlobalAddr
	phase int64
	typ   DepType
}

const dephashShardCount = 64 // power of two

type addrKey struct {
	addr  GlobalAddr
	phase int64
}

// addrEntry is the matching state for one (address, phase) pair: the most
// recent writer (real or a dummy standing in for a not-yet-registered
// remote producer) and the readers that have run since that writer, i.e.
// exactly the RAW/WAW/WAR edges a new registrant must be ordered after.
type addrEntry struct {
	lastWriter *Task
	readers    []*Task
}

type dephashShard struct {
	mu      sync.Mutex
	entries map[addrKey]*addrEntry
}

// dephashEngine tracks read/write dependencies on GlobalAddr ranges and
// turns them into predecessor/successor edges between Tasks. It is sharded
// by address hash so unrelated addresses never contend on the same mutex;
// ordering between two accesses to the *same* address is always correct
// because they always hash to the same shard.
type dephashEngine struct {
	shards  [dephashShardCount]dephashShard
	metrics Metrics
}

func newDephashEngine(metrics Metrics) *dephashEngine {
	if metrics == nil {
		metrics = NilMetrics{}
	}
	e := &dephashEngine{metrics: metrics}
	for i := range e.shards {
		e.shards[i].entries = make(map[addrKey]*addrEntry)
	}
	return e
}

func (e *dephashEngine) shardFor(addr GlobalAddr) *dephashShard {
	h := uint64(addr.Unit)*0x9E3779B97F4A7C15 + addr.Segment*0xC2B2AE3D27D4EB4F + addr.Offset
	return &e.shards[h%dephashShardCount]
}

// Register adds task as an accessor of addr within phase, wiring it as a
// successor of every currently-recorded conflicting access, and returns
// the number of predecessor edges added (task.unresolvedDeps has already
// been bumped by that amount when Register returns).
func (e *dephashEngine) Register(task *Task, addr GlobalAddr, typ DepType, phase int64) int {
	shard := e.shardFor(addr)
	key := addrKey{addr: addr, phase: phase}

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		entry = &addrEntry{}
		shard.entries[key] = entry
	}

	// A task never waits on itself: a task declaring two accesses to the
	// same key (a copy-in task's IN plus COPYIN_OUT) gets no edge from its
	// own earlier registration.
	added := 0
	if typ.isWriter() {
		for _, r := range entry.readers {
			if r != task && e.addSuccessor(r, task) {
				added++
			}
		}
		entry.readers = entry.readers[:0]
		if entry.lastWriter != nil && entry.lastWriter != task && e.addSuccessor(entry.lastWriter, task) {
			added++
		}
		entry.lastWriter = task
	} else {
		// IN, COPYIN, COPYIN_R, DELAYED_IN, DIRECT: a read-shaped access,
		// ordered after the current writer and appended to the reader set
		// so a later writer is ordered after it in turn.
		if entry.lastWriter != nil && entry.lastWriter != task && e.addSuccessor(entry.lastWriter, task) {
			added++
		}
		entry.readers = append(entry.readers, task)
	}
	bucketDepth := len(entry.readers)
	shard.mu.Unlock()

	task.depsOwned = &depRecord{next: task.depsOwned, addr: addr, phase: phase, typ: typ}
	e.metrics.RecordDephashBucket(bucketDepth)
	return added
}

// addSuccessor records succ as waiting on pred's completion. It returns
// false without recording anything if pred has already finished, since in
// that case the edge is already satisfied and must not increment
// succ.unresolvedDeps (that counter must reach zero exactly once).
func (e *dephashEngine) addSuccessor(pred, succ *Task) bool {
	pred.mu.Lock()
	if pred.state == StateFinished || pred.state == StateCancelled || pred.state == StateDestroyed {
		pred.mu.Unlock()
		return false
	}
	pred.successors = append(pred.successors, succ)
	chainLen := len(pred.successors)
	pred.mu.Unlock()
	succ.unresolvedDeps.Add(1)
	e.metrics.RecordDephashChain(chainLen)
	return true
}

// Release detaches task's successor list and decrements each successor's
// unresolvedDeps counter, returning the subset that became runnable (both
// local and remote predecessor counts reached zero). Called exactly once,
// when task transitions to FINISHED or CANCELLED.
func (e *dephashEngine) Release(task *Task) []*Task {
	task.mu.Lock()
	succs := task.successors
	task.successors = nil
	task.mu.Unlock()

	var runnable []*Task
	for _, s := range succs {
		if s.unresolvedDeps.Add(-1) == 0 && s.unresolvedRemoteDeps.Load() == 0 {
			runnable = append(runnable, s)
		}
	}
	return runnable
}

// newDummyTask builds a placeholder standing in for a producer that has
// not yet registered locally -- typically because it lives on a remote
// unit and the matching round that would discover it has not run yet. A
// dummy is never scheduled; it is resolved directly by ResolveDummy once
// the real producer's completion is observed (locally or via remote.go's
// progress callback), which releases its successors exactly like a real
// task completion would.
func newDummyTask(addr GlobalAddr, phase int64) *Task {
	return &Task{
		id:    TaskID{Index: nextTaskIndex()},
		state: StateDummy,
		phase: phase,
		flags: FlagCommTask,
		name:  fmt.Sprintf("dummy(%s@%d)", addr, phase),
	}
}

// RegisterRemoteWaiter records that task depends on whatever will produce
// addr in phase, where the producer is known to live on a remote unit and
// has not yet been matched to a local Task. It installs or reuses a dummy
// placeholder as the address's lastWriter/reader so later local
// registrations order correctly against it, and bumps
// task.unresolvedRemoteDeps instead of unresolvedDeps since this edge can
// only be cleared by remote progress, not by running a local predecessor.
func (e *dephashEngine) RegisterRemoteWaiter(task *Task, addr GlobalAddr, typ DepType, phase int64) {
	shard := e.shardFor(addr)
	key := addrKey{addr: addr, phase: phase}

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok {
		entry = &addrEntry{}
		shard.entries[key] = entry
	}
	dummy := entry.lastWriter
	if dummy == nil || dummy.state != StateDummy {
		dummy = newDummyTask(addr, phase)
		entry.lastWriter = dummy
	}
	dummy.mu.Lock()
	dummy.successors = append(dummy.successors, task)
	dummy.mu.Unlock()
	if typ == DepIn {
		entry.readers = append(entry.readers, task)
	}
	shard.mu.Unlock()

	task.unresolvedRemoteDeps.Add(1)
}

// ResolveDummy marks the dummy standing in for addr's producer in phase as
// satisfied and releases its successors. Called from remote.go once a
// remote completion notification for that producer arrives.
func (e *dephashEngine) ResolveDummy(addr GlobalAddr, phase int64) []*Task {
	shard := e.shardFor(addr)
	key := addrKey{addr: addr, phase: phase}

	shard.mu.Lock()
	entry, ok := shard.entries[key]
	if !ok || entry.lastWriter == nil || entry.lastWriter.state != StateDummy {
		shard.mu.Unlock()
		return nil
	}
	dummy := entry.lastWriter
	shard.mu.Unlock()

	dummy.mu.Lock()
	dummy.state = StateFinished
	succs := dummy.successors
	dummy.successors = nil
	dummy.mu.Unlock()

	var runnable []*Task
	for _, s := range succs {
		if s.unresolvedRemoteDeps.Add(-1) == 0 && s.unresolvedDeps.Load() == 0 {
			runnable = append(runnable, s)
		}
	}
	return runnable
}

// ClosePhase discards all matching state recorded for phase. Called once a
// phase's barrier has completed on every unit and no further task in that
// phase can register a new dependency.
func (e *dephashEngine) ClosePhase(phase int64) {
	for i := range e.shards {
		shard := &e.shards[i]
		shard.mu.Lock()
		for key := range shard.entries {
			if key.phase == phase {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

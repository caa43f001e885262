package core

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dash-hpc/dartrt/transport"
)

// IdleBackoff selects how a worker waits when it finds no runnable work
// anywhere in the runtime, trading wake-up latency against burned CPU.
type IdleBackoff int

const (
	// BackoffPoll spins, re-checking immediately. Lowest latency, highest
	// CPU cost; appropriate for latency-critical phases with few workers.
	BackoffPoll IdleBackoff = iota
	// BackoffSleep sleeps for an exponentially increasing duration,
	// capped, between checks.
	BackoffSleep
	// BackoffCondvar parks on a condition variable woken by any push,
	// the lowest CPU cost but with wakeup scheduling latency.
	BackoffCondvar
)

type backoffState struct {
	mode    IdleBackoff
	attempt int
}

const (
	sleepInitial = 10 * time.Microsecond
	sleepMax     = 2 * time.Millisecond
)

func (b *backoffState) idle(rt *Runtime) {
	switch b.mode {
	case BackoffPoll:
		runtime.Gosched()
	case BackoffSleep:
		d := sleepInitial << uint(min(b.attempt, 8))
		if d > sleepMax {
			d = sleepMax
		}
		time.Sleep(d)
		b.attempt++
	case BackoffCondvar:
		rt.idleMu.Lock()
		rt.idleCond.Wait()
		rt.idleMu.Unlock()
	}
}

func (b *backoffState) reset() { b.attempt = 0 }

// RuntimeConfig configures a Runtime at construction time.
type RuntimeConfig struct {
	NumaDomains      int
	WorkersPerDomain int
	Backoff          IdleBackoff
	Logger           Logger
	Metrics          Metrics
	PanicHandler     PanicHandler
	Transport        transport.Transport
}

// setDefaults fills unset fields, falling back to the DART_* environment
// variables from the environment-variable table before the hardcoded
// defaults, matching dart__base__env's own env-first precedence.
func (c *RuntimeConfig) setDefaults() {
	if c.NumaDomains <= 0 {
		c.NumaDomains = 1
	}
	if c.WorkersPerDomain <= 0 {
		c.WorkersPerDomain = envInt("DART_NUMTHREADS", 1)
	}
	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{Logger: c.Logger}
	}
	if c.Transport == nil {
		c.Transport = transport.NewLoopback(0, 1)
	}
	// DART_THREAD_IDLE always wins when set, same as every other DART_*
	// variable's precedence over its Go-struct equivalent in this repo.
	c.Backoff = envBackoff(c.Backoff)
}

// envBackoff parses DART_THREAD_IDLE's POLL|USLEEP|WAIT vocabulary into an
// IdleBackoff, falling back to def when unset or unrecognized.
func envBackoff(def IdleBackoff) IdleBackoff {
	switch envString("DART_THREAD_IDLE", "") {
	case "POLL":
		return BackoffPoll
	case "USLEEP":
		return BackoffSleep
	case "WAIT":
		return BackoffCondvar
	default:
		return def
	}
}

// worker is one OS-thread-affine execution unit: goroutine that runs the
// victim-selection loop, owns one hot slot and one pooled set of task
// contexts, and belongs to exactly one NUMA domain.
type worker struct {
	id     int
	domain *domainQueue
	hot    hotSlot
	ctxMgr *contextManager
	rt     *Runtime

	// lastVictim is the index of the last worker this one successfully
	// stole a hot-slot task from, retried first on the next search before
	// falling back to a fresh round robin. Touched only by this worker's
	// own run loop, so it needs no synchronization.
	lastVictim int
}

// domainQueue groups the workers and the shared numaQueue for one NUMA
// domain.
type domainQueue struct {
	id      int
	queue   *numaQueue
	workers []*worker
}

// Runtime is the top-level scheduler: it owns every NUMA domain's workers
// and queues, the dependency engine, the copy-in engine and the remote
// progress engine, and is the entry point Submit/Wait/Shutdown are called
// against.
type Runtime struct {
	cfg     RuntimeConfig
	domains []*domainQueue
	workers []*worker

	dephash *dephashEngine
	copyin  *copyinEngine
	remote  *remoteEngine
	history *executionHistory
	phases  *phaseGate

	root *Task

	currentPhase atomic.Int64
	activeTasks  atomic.Int64
	draining     atomic.Bool

	domainCursor atomic.Uint64

	// placeNUMA mirrors DART_THREAD_PLACE_NUMA: when true, a task with no
	// explicit PinDomain is placed on its parent's NUMA domain rather than
	// round-robinned, trading load balance for locality with the task that
	// created it.
	placeNUMA bool

	shutdown chan struct{}
	wg       sync.WaitGroup

	idleMu   sync.Mutex
	idleCond *sync.Cond
}

// NewRuntime constructs and starts a Runtime: one goroutine per worker and
// one goroutine driving remote progress are running by the time it
// returns.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	cfg.setDefaults()

	rt := &Runtime{
		cfg:       cfg,
		placeNUMA: envBool("DART_THREAD_PLACE_NUMA", true),
		shutdown:  make(chan struct{}),
	}
	rt.idleCond = sync.NewCond(&rt.idleMu)
	rt.dephash = newDephashEngine(cfg.Metrics)
	rt.copyin = newCopyinEngine(cfg.Transport, cfg.Metrics)
	rt.remote = newRemoteEngine(cfg.Transport, rt.dephash, rt.enqueueRunnable, cfg.Metrics)
	rt.history = newExecutionHistory(256)
	rt.phases = newPhaseGate()

	rt.root = &Task{id: TaskID{Index: nextTaskIndex()}, state: StateRoot, name: "root", doneCh: make(chan struct{})}
	close(rt.root.doneCh)

	wid := 0
	for d := 0; d < cfg.NumaDomains; d++ {
		dq := &domainQueue{id: d, queue: newNumaQueue(d)}
		for i := 0; i < cfg.WorkersPerDomain; i++ {
			w := &worker{id: wid, domain: dq, ctxMgr: newContextManager(), rt: rt, lastVictim: -1}
			dq.workers = append(dq.workers, w)
			rt.workers = append(rt.workers, w)
			wid++
		}
		rt.domains = append(rt.domains, dq)
	}

	rt.remote.Start(context.Background())
	for _, w := range rt.workers {
		rt.wg.Add(1)
		go w.run()
	}
	return rt
}

// Dependency declares one access a submitted task makes to the global
// address space.
type Dependency struct {
	Addr   GlobalAddr
	Type   DepType
	Remote bool // producer is known to live on another unit, not yet matched locally
	// Copyin carries the transfer Submit schedules as a real communication
	// task when Type is DepCopyin or DepCopyinR; nil for every other Type.
	// Addr is ignored for these two types -- the source address is derived
	// from Copyin.Unit/Segment/Offset instead, and Copyin.Dst must be set
	// (a runtime-allocated destination has nowhere to report itself back
	// to the caller through this path; use copyinEngine.Borrow/Return
	// directly if the destination's lifetime needs managing by hand).
	Copyin *CopyinRequest
}

// SubmitOptions configures one Submit call.
type SubmitOptions struct {
	Priority Priority
	Flags    Flags
	Deps     []Dependency
	Name     string
	Payload  []byte
	// PinDomain pins the task to a specific NUMA domain index. Nil (the
	// default) places the task on its parent's domain when
	// DART_THREAD_PLACE_NUMA is on (the default) and the parent is not the
	// root, and assigns a domain round-robin otherwise.
	PinDomain *int
}

// phaseGate is the matching protocol's second gate on runnability, distinct
// from dependency-count gating: a task whose dependencies are already
// satisfied still cannot run until the matching point has declared its
// phase runnable (perform_matching's "does the phase accept new tasks yet"
// step), so that every task of phase p finishes before any task of phase
// q>p begins. admit is consulted exactly once per task, at the moment its
// dependency count reaches zero (either immediately at Submit, for a task
// with no unresolved deps, or later from enqueueRunnable); a task must
// never be checked twice, or advance could hand it back out twice.
type phaseGate struct {
	mu       sync.Mutex
	runnable int64
	deferred map[int64][]*Task
}

func newPhaseGate() *phaseGate {
	return &phaseGate{deferred: make(map[int64][]*Task)}
}

// admit reports whether phase is currently declared runnable. If not, task
// is recorded against phase and admit reports false; the caller must leave
// task in StateDeferred and not place it -- it will come back out of
// advance once the phase is declared runnable.
func (g *phaseGate) admit(task *Task, phase int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if phase <= g.runnable {
		return true
	}
	g.deferred[phase] = append(g.deferred[phase], task)
	return false
}

// advance declares every phase up to and including phase runnable and
// returns every task that had been waiting purely on that gate, so the
// caller can place them now that both gates are open.
func (g *phaseGate) advance(phase int64) []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if phase <= g.runnable {
		return nil
	}
	g.runnable = phase
	var released []*Task
	for p, tasks := range g.deferred {
		if p <= phase {
			released = append(released, tasks...)
			delete(g.deferred, p)
		}
	}
	return released
}

// Submit creates a task under parent (or the runtime's root if parent is
// nil), registers its dependencies, and either queues it or runs it on the
// calling goroutine before returning: an Inline task always, an Immediate
// task once its dependencies are satisfied and its phase is admitted.
func (rt *Runtime) Submit(parent *Task, fn Fn, opts SubmitOptions) (*Task, error) {
	if fn == nil {
		return nil, errInval("Submit", fmt.Errorf("nil task function"))
	}
	for _, dep := range opts.Deps {
		if (dep.Type == DepCopyin || dep.Type == DepCopyinR) && dep.Copyin == nil {
			return nil, errInval("Submit", fmt.Errorf("DepCopyin/DepCopyinR dependency with a nil Copyin request"))
		}
	}
	if parent == nil {
		parent = rt.root
	}

	priority := opts.Priority
	if priority == PriorityParent {
		priority = parent.priority
	}
	flags := opts.Flags
	if priority == PriorityInline {
		flags |= FlagInline
	}

	task := &Task{
		id:       TaskID{Index: nextTaskIndex()},
		state:    StateCreated,
		parent:   parent,
		fn:       fn,
		priority: priority,
		flags:    flags,
		phase:    rt.currentPhase.Load(),
		name:     opts.Name,
		doneCh:   make(chan struct{}),
	}
	if opts.Payload != nil {
		task.setPayload(opts.Payload)
	}
	switch {
	case opts.PinDomain != nil:
		task.numaDomain = *opts.PinDomain
	case rt.placeNUMA && parent != rt.root:
		task.numaDomain = parent.numaDomain
	default:
		task.numaDomain = int(rt.domainCursor.Add(1)) % len(rt.domains)
	}
	parent.addChild()

	for _, dep := range opts.Deps {
		if dep.Remote {
			rt.dephash.RegisterRemoteWaiter(task, dep.Addr, dep.Type, task.phase)
			continue
		}
		if dep.Type == DepCopyin || dep.Type == DepCopyinR {
			addr, err := rt.issueCopyinTask(parent, *dep.Copyin)
			if err != nil {
				parent.releaseChild()
				return nil, err
			}
			rt.dephash.Register(task, addr, DepIn, task.phase)
			continue
		}
		rt.dephash.Register(task, dep.Addr, dep.Type, task.phase)
	}

	rt.activeTasks.Add(1)

	if task.IsInline() {
		rt.runInline(task)
		return task, nil
	}

	depsReady := task.runnable()
	if task.IsImmediate() && depsReady {
		if rt.phases.admit(task, task.phase) {
			rt.runImmediate(task)
		} else {
			task.setState(StateDeferred)
		}
		return task, nil
	}

	if depsReady && rt.phases.admit(task, task.phase) {
		task.setState(StateQueued)
		rt.place(task)
	} else {
		task.setState(StateDeferred)
	}
	return task, nil
}

// runInline executes task synchronously on the calling goroutine with no
// context at all -- used for tasks small enough that the dispatch overhead
// of a context and a queue round trip would dominate their own runtime.
// An inline task cannot suspend: Suspend returns INVAL for it.
func (rt *Runtime) runInline(task *Task) {
	task.setState(StateRunning)
	goCtx := context.WithValue(context.Background(), currentTaskKey, task)
	err := task.fn(goCtx)
	rt.complete(task, err)
}

// runImmediate executes task eagerly on the calling goroutine through a
// dedicated, unpooled task context, bypassing the queue entirely for its
// first dispatch -- the contract IsImmediate documents. Unlike an inline
// task it runs through a real context and can still suspend; if it does,
// it falls back to the ordinary queue/resume path from that point on,
// since only the eager first dispatch is special.
func (rt *Runtime) runImmediate(task *Task) {
	task.setState(StateRunning)
	start := time.Now()
	tctx := newTaskContext()
	tctx.start <- task
	ev := <-tctx.result

	if ev.kind == ctxSuspended {
		task.setState(StateSuspended)
		task.ctx = tctx
		if !task.blockedOnJoin() {
			rt.requeue(task)
		}
		return
	}

	switch ev.kind {
	case ctxFinished:
		rt.complete(task, ev.err)
	case ctxPanicked:
		rt.cfg.PanicHandler.HandlePanic(-1, task.Name(), ev.panicInfo, ev.stack)
		rt.cfg.Metrics.RecordTaskPanic(-1)
		rt.complete(task, fmt.Errorf("task panic: %v", ev.panicInfo))
	}
	close(tctx.start)

	duration := time.Since(start)
	rt.cfg.Metrics.RecordTaskDuration(task.numaDomain, task.priority, duration)
	rt.history.add(TaskExecutionRecord{
		TaskID:     task.id,
		Name:       task.Name(),
		Priority:   task.priority,
		NumaDomain: task.numaDomain,
		StartedAt:  start,
		Duration:   duration,
		Panicked:   ev.kind == ctxPanicked,
	})
}

// place queues a runnable task: first into a free hot slot of any worker in
// the task's assigned NUMA domain, otherwise onto the head of that domain's
// queue by priority class.
func (rt *Runtime) place(task *Task) {
	dq := rt.domains[task.numaDomain%len(rt.domains)]
	for _, w := range dq.workers {
		if w.hot.trySet(task) {
			rt.wakeIdle()
			return
		}
	}
	dq.queue.push(task, task.priority.queueClass())
	high, low := dq.queue.lens()
	rt.cfg.Metrics.RecordQueueDepth(dq.id, high, low)
	rt.wakeIdle()
}

// placeAt queues task at pos positions from the head of its domain's
// priority-class deque instead of place's hot-slot-then-head ordering,
// giving the caller an exact position guarantee a hot slot can't provide.
// Used by Yield's delay-based requeue.
func (rt *Runtime) placeAt(task *Task, pos int) {
	dq := rt.domains[task.numaDomain%len(rt.domains)]
	dq.queue.insert(task, task.priority.queueClass(), pos)
	high, low := dq.queue.lens()
	rt.cfg.Metrics.RecordQueueDepth(dq.id, high, low)
	rt.wakeIdle()
}

func (rt *Runtime) wakeIdle() {
	if rt.cfg.Backoff == BackoffCondvar {
		rt.idleCond.Broadcast()
	}
}

// wakeSuspended re-queues a task that was parked in Suspend pending an
// explicit external wake (see Task.joinWaiting/beginJoinWait), so nextTask
// can find it and resume its stored context on whichever worker picks it
// up next.
func (rt *Runtime) wakeSuspended(task *Task) {
	task.setState(StateQueued)
	rt.place(task)
}

// requeue re-queues task after a plain cooperative suspend (one not parked
// on TaskWait's join), honoring a pending Yield delay if task.takeYieldDelay
// left one, and otherwise falling back to place's ordinary placement.
func (rt *Runtime) requeue(task *Task) {
	task.setState(StateQueued)
	if delay, ok := task.takeYieldDelay(); ok {
		rt.placeAt(task, delay)
		return
	}
	rt.place(task)
}

// enqueueRunnable places every task in ts onto its domain queue, provided
// its phase has also been declared runnable -- ts only carries tasks whose
// dependency count just reached zero, so this is each one's first and only
// phaseGate check. A task whose phase isn't runnable yet is left in
// StateDeferred; phaseGate.advance hands it back out once NextPhase opens
// its phase.
func (rt *Runtime) enqueueRunnable(ts []*Task) {
	for _, t := range ts {
		if !rt.phases.admit(t, t.phase) {
			continue
		}
		if !t.casState(StateDeferred, StateQueued) {
			t.setState(StateQueued)
		}
		rt.place(t)
	}
}

// complete finalizes task: records its terminal state, releases its
// dependency successors, joins with its parent, and closes doneCh.
func (rt *Runtime) complete(task *Task, err error) {
	final := StateFinished
	if err != nil || task.Cancelled() {
		final = StateCancelled
	}
	task.setState(final)

	runnable := rt.dephash.Release(task)
	rt.activeTasks.Add(-1)
	if task.parent != nil {
		if _, woken := task.parent.releaseChild(); woken {
			rt.wakeSuspended(task.parent)
		}
	}
	close(task.doneCh)

	if len(runnable) > 0 {
		rt.enqueueRunnable(runnable)
	}
}

// Wait blocks until task reaches a terminal state.
func (rt *Runtime) Wait(ctx context.Context, task *Task) error {
	select {
	case <-task.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TaskWait blocks the calling task (identified via ctx) until all of its
// currently outstanding children have finished. It must be called from
// within a task body dispatched by this runtime.
func (rt *Runtime) TaskWait(ctx context.Context) error {
	task := CurrentTask(ctx)
	if task == nil {
		return errInval("TaskWait", fmt.Errorf("called outside a managed task context"))
	}
	for task.beginJoinWait() {
		task.setState(StateBlocked)
		if err := Suspend(ctx); err != nil {
			return err
		}
		task.setState(StateRunning)
	}
	return nil
}

// Yield cooperatively suspends the calling task and chooses where the
// scheduler reinserts it once it is next picked up: delay positions from
// the head of its domain queue when delay > 0, at the head when delay ==
// 0, or at the tail (the end the owning worker pops last) when delay < 0.
func (rt *Runtime) Yield(ctx context.Context, delay int) error {
	task := CurrentTask(ctx)
	if task == nil {
		return errInval("Yield", fmt.Errorf("called outside a managed task context"))
	}
	if task.flags.has(FlagNoYield) {
		return nil
	}
	if delay < 0 {
		delay = math.MaxInt // insert clamps this to the tail
	}
	task.setYieldDelay(delay)
	task.setState(StateBlocked)
	if err := Suspend(ctx); err != nil {
		return err
	}
	task.setState(StateRunning)
	return nil
}

// NextPhase closes the current phase's matching epoch (blocking until
// every unit agrees no more dependencies for it will be registered),
// advances to the next phase number, and declares it runnable -- draining
// every task that had been waiting purely on that gate onto its domain
// queue. This is perform_matching's phase-advance step: it is what makes
// the ordering guarantee that every task of phase p finishes before any
// task of a later phase begins actually hold, rather than just following
// from dependency edges that happen to exist.
func (rt *Runtime) NextPhase(ctx context.Context) (int64, error) {
	phase := rt.currentPhase.Load()
	if err := rt.remote.ClosePhase(ctx, phase); err != nil {
		return phase, err
	}
	next := rt.currentPhase.Add(1)
	for _, t := range rt.phases.advance(next) {
		if !t.casState(StateDeferred, StateQueued) {
			t.setState(StateQueued)
		}
		rt.place(t)
	}
	return next, nil
}

// NotifyRemote announces that addr (produced locally in phase) is now
// final, so any other unit waiting on it via a dummy placeholder can
// resolve that dependency.
func (rt *Runtime) NotifyRemote(ctx context.Context, addr GlobalAddr, phase int64) error {
	return rt.remote.NotifyTaskDone(ctx, addr, phase)
}

// issueCopyinTask expands a DepCopyin/DepCopyinR dependency into a real
// scheduled communication task: a GET or SENDRECV running at
// PriorityCopyin with an IN dep on src and a COPYIN_OUT dep installing it
// as src's new writer, exactly as a GET copy-in is specified. It returns
// src so the caller can register the original consumer as a plain DepIn
// ordered after it, making the transfer's completion an ordinary
// dependency-graph edge instead of a call the consumer makes itself. The
// task it creates is submitted under the same parent as the consumer, so
// it joins the same task_complete wait; it inherits the current phase the
// same way any other Submit call would.
func (rt *Runtime) issueCopyinTask(parent *Task, req CopyinRequest) (GlobalAddr, error) {
	src := GlobalAddr{Unit: int32(req.Unit), Segment: req.Segment, Offset: req.Offset}

	body := func(ctx context.Context) error {
		wait, err := rt.copyin.Fetch(ctx, req)
		if err != nil {
			return err
		}
		return wait()
	}

	_, err := rt.Submit(parent, body, SubmitOptions{
		Priority: PriorityCopyin,
		Flags:    FlagCommTask,
		Name:     "copyin(" + req.Method.String() + ")",
		Deps: []Dependency{
			{Addr: src, Type: DepIn},
			{Addr: src, Type: DepCopyinOut},
		},
	})
	if err != nil {
		return GlobalAddr{}, err
	}
	return src, nil
}

// Cancel marks task as cancelled; its children are not marked. It does not
// forcibly stop a running task body;
// cooperative bodies must check ctx or Task.Cancelled at their own yield
// points. If task is still sitting in its domain's queue, unstarted, it is
// evicted and completed immediately rather than left to be dispatched only
// to discover it was cancelled.
func (rt *Runtime) Cancel(task *Task) {
	task.cancelled.Store(true)
	if !task.casState(StateQueued, StateCancelled) {
		return
	}
	dq := rt.domains[task.numaDomain%len(rt.domains)]
	if dq.queue.remove(task, task.priority.queueClass()) {
		rt.complete(task, fmt.Errorf("task cancelled before dispatch"))
		return
	}
	// Not in the deque -- it's sitting in a hot slot instead, or a steal
	// already claimed it. Either way it's about to be dispatched and will
	// observe Cancelled() itself; restore the state a dispatch expects.
	task.setState(StateQueued)
}

// Shutdown stops accepting new idle-wait cycles once every outstanding
// task has drained, then stops every worker and the remote progress loop.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.draining.Store(true)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for rt.activeTasks.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	close(rt.shutdown)
	rt.wakeIdle()
	rt.idleMu.Lock()
	rt.idleCond.Broadcast()
	rt.idleMu.Unlock()
	rt.wg.Wait()
	rt.remote.Stop()
	return nil
}

// run is the victim-selection loop: a worker repeatedly calls nextTask and
// falls back to an idle backoff once it comes up empty.
func (w *worker) run() {
	defer w.rt.wg.Done()
	backoff := &backoffState{mode: w.rt.cfg.Backoff}
	for {
		select {
		case <-w.rt.shutdown:
			return
		default:
		}

		if task, ok := w.nextTask(); ok {
			backoff.reset()
			w.execute(task)
			continue
		}

		if w.rt.draining.Load() && w.rt.activeTasks.Load() == 0 {
			return
		}
		backoff.idle(w.rt)
	}
}

// nextTask implements the six-step victim-selection order: own slot, own
// hot slots, last-victim's hot slots, same-NUMA round robin over hot slots,
// this worker's NUMA queue (falling back to other domains' queues), then a
// cross-NUMA steal of hot slots. Our hot-slot array folds the first two
// steps into one structure (see DESIGN.md): there is no separate single-task
// cache distinct from the array the way the grounding C source has, since
// nothing in this runtime's Yield path needs that short-circuit.
func (w *worker) nextTask() (*Task, bool) {
	if t, ok := w.hot.tryTakeOwn(); ok {
		return t, true
	}

	n := len(w.rt.workers)
	if n > 1 {
		if w.lastVictim >= 0 {
			if victim := w.rt.workers[w.lastVictim]; victim != w {
				if t, ok := victim.hot.tryTakeBack(); ok {
					return t, true
				}
			}
		}
		for i := 1; i < n; i++ {
			idx := (w.id + i) % n
			victim := w.rt.workers[idx]
			if victim == w || victim.domain != w.domain {
				continue
			}
			if t, ok := victim.hot.tryTakeBack(); ok {
				w.lastVictim = idx
				return t, true
			}
		}
	}

	nd := len(w.rt.domains)
	for i := 0; i < nd; i++ {
		dq := w.rt.domains[(w.domain.id+i)%nd]
		if dq == w.domain {
			if t, ok := dq.queue.popOwn(); ok {
				return t, true
			}
			continue
		}
		if t, ok := dq.queue.steal(); ok {
			return t, true
		}
	}

	if n > 1 {
		for i := 1; i < n; i++ {
			idx := (w.id + i) % n
			victim := w.rt.workers[idx]
			if victim.domain == w.domain {
				continue
			}
			if t, ok := victim.hot.tryTakeBack(); ok {
				w.lastVictim = idx
				return t, true
			}
		}
	}
	return nil, false
}

func (w *worker) execute(task *Task) {
	task.setState(StateRunning)

	start := time.Now()
	var tctx *taskContext
	var ev ctxEvent
	if task.ctx != nil {
		tctx = task.ctx
		task.ctx = nil
		if err := tctx.Resume(); err != nil {
			w.rt.cfg.Logger.Error("resume failed", F("task", task.Name()), F("err", err))
		}
		ev = <-tctx.result
	} else {
		tctx, ev = w.ctxMgr.dispatch(task)
	}

	switch ev.kind {
	case ctxSuspended:
		task.setState(StateSuspended)
		task.ctx = tctx
		if !task.blockedOnJoin() {
			w.rt.requeue(task)
		}
	case ctxFinished:
		w.rt.complete(task, ev.err)
		w.ctxMgr.release(tctx)
	case ctxPanicked:
		w.rt.cfg.PanicHandler.HandlePanic(w.id, task.Name(), ev.panicInfo, ev.stack)
		w.rt.cfg.Metrics.RecordTaskPanic(w.id)
		w.rt.complete(task, fmt.Errorf("task panic: %v", ev.panicInfo))
		w.ctxMgr.release(tctx)
	}

	if ev.kind != ctxSuspended {
		duration := time.Since(start)
		w.rt.cfg.Metrics.RecordTaskDuration(w.domain.id, task.priority, duration)
		w.rt.history.add(TaskExecutionRecord{
			TaskID:     task.id,
			Name:       task.Name(),
			Priority:   task.priority,
			NumaDomain: w.domain.id,
			StartedAt:  start,
			Duration:   duration,
			Panicked:   ev.kind == ctxPanicked,
		})
	}
}

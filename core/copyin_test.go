package core

import (
	"context"
	"testing"
	"time"

	"github.com/dash-hpc/dartrt/transport"
)

func TestSizeClassIndex(t *testing.T) {
	cases := map[int]int{
		1:       0,
		256:     0,
		257:     1,
		1048576: len(sizeClasses) - 1,
		2000000: -1,
	}
	for n, want := range cases {
		if got := sizeClassIndex(n); got != want {
			t.Errorf("sizeClassIndex(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestBufferPool_ReusesReturnedBuffer(t *testing.T) {
	p := newBufferPool()
	buf := p.get(100)
	if len(buf) != 100 {
		t.Fatalf("get(100) returned length %d", len(buf))
	}
	if cap(buf) != sizeClasses[0] {
		t.Fatalf("get(100) should allocate from the smallest size class, cap=%d", cap(buf))
	}
	p.put(buf)

	again := p.get(50)
	if cap(again) != sizeClasses[0] {
		t.Fatalf("expected the pooled buffer to be reused, cap=%d", cap(again))
	}
}

func TestBufferPool_OversizeFallsBackToAllocation(t *testing.T) {
	p := newBufferPool()
	buf := p.get(10_000_000)
	if len(buf) != 10_000_000 {
		t.Fatalf("oversize get should allocate exactly, got %d", len(buf))
	}
	p.put(buf) // must not panic even though it can't be pooled
}

func TestTreiberStack_PushPop(t *testing.T) {
	var s treiberStack
	if s.pop() != nil {
		t.Fatal("pop on an empty stack should return nil")
	}
	a := &bufNode{buf: []byte("a")}
	b := &bufNode{buf: []byte("b")}
	s.push(a)
	s.push(b)

	if got := s.pop(); got != b {
		t.Fatal("pop should return the most recently pushed node")
	}
	if got := s.pop(); got != a {
		t.Fatal("pop should return the remaining node next")
	}
	if s.pop() != nil {
		t.Fatal("pop on a drained stack should return nil")
	}
}

func TestCopyinEngine_FetchBlock(t *testing.T) {
	loop := transport.NewLoopback(0, 1)
	loop.Bind(7, []byte("payload!"))
	e := newCopyinEngine(loop, nil)

	dst := make([]byte, 8)
	_, err := e.Fetch(context.Background(), CopyinRequest{
		Dst:     dst,
		Unit:    0,
		Segment: 7,
		Method:  CopyinGet,
		Wait:    WaitBlock,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(dst) != "payload!" {
		t.Fatalf("Fetch copied %q, want %q", dst, "payload!")
	}
}

func TestCopyinEngine_FetchDetach(t *testing.T) {
	loop := transport.NewLoopback(0, 1)
	loop.Bind(8, []byte("deferred"))
	e := newCopyinEngine(loop, nil)

	dst := make([]byte, 8)
	complete, err := e.Fetch(context.Background(), CopyinRequest{
		Dst:     dst,
		Unit:    0,
		Segment: 8,
		Method:  CopyinGet,
		Wait:    WaitDetach,
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if complete == nil {
		t.Fatal("WaitDetach should return a non-nil completion func")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ctx
	if err := complete(); err != nil {
		t.Fatalf("completion func failed: %v", err)
	}
	if string(dst) != "deferred" {
		t.Fatalf("dst = %q, want %q", dst, "deferred")
	}
}

func TestRuntime_DepCopyinSchedulesRealCommTask(t *testing.T) {
	loop := transport.NewLoopback(0, 1)
	loop.Bind(42, []byte("fetched!"))
	rt := NewRuntime(RuntimeConfig{NumaDomains: 1, WorkersPerDomain: 2, Transport: loop})
	defer rt.Shutdown(testShutdownCtx())

	dst := make([]byte, 8)
	var consumerSawData string
	consumer, err := rt.Submit(nil, func(ctx context.Context) error {
		consumerSawData = string(dst)
		return nil
	}, SubmitOptions{
		Name: "consumer",
		Deps: []Dependency{{
			Type: DepCopyin,
			Copyin: &CopyinRequest{
				Dst:     dst,
				Unit:    0,
				Segment: 42,
				Method:  CopyinGet,
				Wait:    WaitBlock,
			},
		}},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := rt.Wait(testShutdownCtx(), consumer); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if consumerSawData != "fetched!" {
		t.Fatalf("consumer observed %q, want %q -- the copy-in did not complete before the consumer ran", consumerSawData, "fetched!")
	}

	sawCopyinTask := false
	for _, r := range rt.Recent(10) {
		if r.Name == "copyin(GET)" {
			sawCopyinTask = true
		}
	}
	if !sawCopyinTask {
		t.Fatal("a DepCopyin dependency should run as its own scheduled communication task, not inline inside the consumer")
	}
}

func TestRuntime_DepCopyinNilRequestIsError(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{NumaDomains: 1, WorkersPerDomain: 1})
	defer rt.Shutdown(testShutdownCtx())

	_, err := rt.Submit(nil, func(ctx context.Context) error { return nil }, SubmitOptions{
		Deps: []Dependency{{Type: DepCopyin}},
	})
	if err == nil {
		t.Fatal("Submit with a DepCopyin dependency and a nil Copyin request should fail")
	}
}

func TestDepType_IsWriter(t *testing.T) {
	writers := map[DepType]bool{
		DepIn:        false,
		DepOut:       true,
		DepInOut:     true,
		DepCopyin:    false,
		DepCopyinR:   false,
		DepCopyinOut: true,
		DepDelayedIn: false,
		DepDirect:    false,
	}
	for typ, want := range writers {
		if got := typ.isWriter(); got != want {
			t.Errorf("%v.isWriter() = %v, want %v", typ, got, want)
		}
	}
}

func TestCopyinEngine_UnknownWaitStrategy(t *testing.T) {
	loop := transport.NewLoopback(0, 1)
	loop.Bind(9, []byte("x"))
	e := newCopyinEngine(loop, nil)

	_, err := e.Fetch(context.Background(), CopyinRequest{
		Dst:     make([]byte, 1),
		Unit:    0,
		Segment: 9,
		Method:  CopyinGet,
		Wait:    WaitStrategy(99),
	})
	if err == nil {
		t.Fatal("expected an error for an unrecognized wait strategy")
	}
}

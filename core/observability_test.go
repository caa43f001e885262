package core

import (
	"context"
	"testing"
)

func TestExecutionHistory_RecentNewestFirst(t *testing.T) {
	h := newExecutionHistory(3)
	h.add(TaskExecutionRecord{Name: "a"})
	h.add(TaskExecutionRecord{Name: "b"})
	h.add(TaskExecutionRecord{Name: "c"})

	recent := h.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) returned %d records", len(recent))
	}
	if recent[0].Name != "c" || recent[1].Name != "b" || recent[2].Name != "a" {
		t.Fatalf("Recent should be newest-first, got %v", []string{recent[0].Name, recent[1].Name, recent[2].Name})
	}
}

func TestExecutionHistory_WrapsAtCapacity(t *testing.T) {
	h := newExecutionHistory(2)
	h.add(TaskExecutionRecord{Name: "a"})
	h.add(TaskExecutionRecord{Name: "b"})
	h.add(TaskExecutionRecord{Name: "c"})

	recent := h.Recent(5)
	if len(recent) != 2 {
		t.Fatalf("Recent should cap at the buffer's capacity, got %d", len(recent))
	}
	if recent[0].Name != "c" || recent[1].Name != "b" {
		t.Fatalf("oldest record should have been evicted, got %v", []string{recent[0].Name, recent[1].Name})
	}
}

func TestExecutionHistory_EmptyReturnsEmpty(t *testing.T) {
	h := newExecutionHistory(4)
	if recent := h.Recent(10); len(recent) != 0 {
		t.Fatalf("Recent on an empty history should return nothing, got %d", len(recent))
	}
}

func TestExecutionHistory_DefaultCapacity(t *testing.T) {
	h := newExecutionHistory(0)
	if len(h.buf) != 256 {
		t.Fatalf("newExecutionHistory(0) should default to capacity 256, got %d", len(h.buf))
	}
}

func TestRuntime_StatsReportsDomainsAndActiveTasks(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{NumaDomains: 2, WorkersPerDomain: 1})
	defer rt.Shutdown(testShutdownCtx())

	stats := rt.Stats()
	if len(stats.Domains) != 2 {
		t.Fatalf("Stats() should report 2 domains, got %d", len(stats.Domains))
	}
	for _, d := range stats.Domains {
		if d.Workers != 1 {
			t.Errorf("domain %d workers = %d, want 1", d.Domain, d.Workers)
		}
	}
}

func TestRuntime_RecentReflectsCompletedTasks(t *testing.T) {
	rt := NewRuntime(RuntimeConfig{NumaDomains: 1, WorkersPerDomain: 1})
	defer rt.Shutdown(testShutdownCtx())

	task, err := rt.Submit(nil, func(ctx context.Context) error { return nil }, SubmitOptions{Name: "observed"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := rt.Wait(testShutdownCtx(), task); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	recent := rt.Recent(1)
	if len(recent) != 1 || recent[0].Name != "observed" {
		t.Fatalf("Recent(1) = %v, want [observed]", recent)
	}
}

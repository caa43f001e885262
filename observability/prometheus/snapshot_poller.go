package prometheus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dash-hpc/dartrt/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RuntimeSnapshotProvider provides a point-in-time snapshot of one
// runtime's load. *core.Runtime satisfies this via its Stats method.
type RuntimeSnapshotProvider interface {
	Stats() core.RuntimeStats
}

// SnapshotPoller periodically exports RuntimeSnapshotProvider snapshots
// into Prometheus gauges, for the fields a point-in-time gauge represents
// better than a counter or histogram recorded at the moment something
// happens (queue depth, active task count, current phase).
type SnapshotPoller struct {
	interval time.Duration

	runtimesMu sync.RWMutex
	runtimes   map[string]RuntimeSnapshotProvider

	activeTasks  *prom.GaugeVec
	currentPhase *prom.GaugeVec
	domainHigh   *prom.GaugeVec
	domainLow    *prom.GaugeVec
	domainWorker *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its
// collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	activeTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dartrt",
		Name:      "active_tasks",
		Help:      "Number of tasks currently submitted but not yet finished.",
	}, []string{"runtime"})
	currentPhase := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dartrt",
		Name:      "current_phase",
		Help:      "Current phase number.",
	}, []string{"runtime"})
	domainHigh := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dartrt",
		Name:      "domain_queue_high",
		Help:      "HIGH priority queue length, by NUMA domain.",
	}, []string{"runtime", "domain"})
	domainLow := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dartrt",
		Name:      "domain_queue_low",
		Help:      "LOW priority queue length, by NUMA domain.",
	}, []string{"runtime", "domain"})
	domainWorker := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "dartrt",
		Name:      "domain_workers",
		Help:      "Worker count, by NUMA domain.",
	}, []string{"runtime", "domain"})

	var err error
	if activeTasks, err = registerCollector(reg, activeTasks); err != nil {
		return nil, err
	}
	if currentPhase, err = registerCollector(reg, currentPhase); err != nil {
		return nil, err
	}
	if domainHigh, err = registerCollector(reg, domainHigh); err != nil {
		return nil, err
	}
	if domainLow, err = registerCollector(reg, domainLow); err != nil {
		return nil, err
	}
	if domainWorker, err = registerCollector(reg, domainWorker); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:     interval,
		runtimes:     make(map[string]RuntimeSnapshotProvider),
		activeTasks:  activeTasks,
		currentPhase: currentPhase,
		domainHigh:   domainHigh,
		domainLow:    domainLow,
		domainWorker: domainWorker,
	}, nil
}

// AddRuntime adds or replaces a runtime snapshot provider by name.
func (p *SnapshotPoller) AddRuntime(name string, provider RuntimeSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runtime")
	p.runtimesMu.Lock()
	p.runtimes[name] = provider
	p.runtimesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.runtimesMu.RLock()
	defer p.runtimesMu.RUnlock()

	for name, provider := range p.runtimes {
		stats := provider.Stats()
		p.activeTasks.WithLabelValues(name).Set(float64(stats.ActiveTasks))
		p.currentPhase.WithLabelValues(name).Set(float64(stats.CurrentPhase))
		for _, d := range stats.Domains {
			domainLabel := fmt.Sprintf("%d", d.Domain)
			p.domainHigh.WithLabelValues(name, domainLabel).Set(float64(d.HighQueueLen))
			p.domainLow.WithLabelValues(name, domainLabel).Set(float64(d.LowQueueLen))
			p.domainWorker.WithLabelValues(name, domainLabel).Set(float64(d.Workers))
		}
	}
}

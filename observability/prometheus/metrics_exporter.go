package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/dash-hpc/dartrt/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	queueDepth          *prom.GaugeVec
	taskRejectedTotal   *prom.CounterVec
	dephashBucketDepth  prom.Histogram
	dephashChainLength  prom.Histogram
	copyinWaitSeconds   *prom.HistogramVec
	matchingRoundSecs   prom.Histogram
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for
// core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "dartrt"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"numa_domain", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics, by worker id.",
	}, []string{"worker"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current per-domain, per-priority queue depth.",
	}, []string{"numa_domain", "priority"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected task submissions, by reason.",
	}, []string{"reason"})
	dephashBucketDepth := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "dephash_bucket_depth",
		Help:      "Number of readers outstanding in a dependency bucket at registration time.",
		Buckets:   prom.LinearBuckets(0, 2, 10),
	})
	dephashChainLength := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "dephash_successor_chain_length",
		Help:      "Length of a predecessor task's successor list at registration time.",
		Buckets:   prom.LinearBuckets(0, 2, 10),
	})
	copyinWaitVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "copyin_wait_seconds",
		Help:      "Time spent waiting for a copy-in transfer to complete, by transport method.",
		Buckets:   buckets,
	}, []string{"method"})
	matchingRoundSecs := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "matching_round_seconds",
		Help:      "Time spent in a phase's blocking matching barrier.",
		Buckets:   buckets,
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if dephashBucketDepth, err = registerCollector(reg, dephashBucketDepth); err != nil {
		return nil, err
	}
	if dephashChainLength, err = registerCollector(reg, dephashChainLength); err != nil {
		return nil, err
	}
	if copyinWaitVec, err = registerCollector(reg, copyinWaitVec); err != nil {
		return nil, err
	}
	if matchingRoundSecs, err = registerCollector(reg, matchingRoundSecs); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		queueDepth:          queueDepthVec,
		taskRejectedTotal:   rejectedVec,
		dephashBucketDepth:  dephashBucketDepth,
		dephashChainLength:  dephashChainLength,
		copyinWaitSeconds:   copyinWaitVec,
		matchingRoundSecs:   matchingRoundSecs,
	}, nil
}

func (m *MetricsExporter) RecordTaskDuration(numaDomain int, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(domainLabel(numaDomain), priority.String()).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(workerID int) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(fmt.Sprintf("%d", workerID)).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(numaDomain int, highLen, lowLen int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(domainLabel(numaDomain), "HIGH").Set(float64(highLen))
	m.queueDepth.WithLabelValues(domainLabel(numaDomain), "LOW").Set(float64(lowLen))
}

func (m *MetricsExporter) RecordTaskRejected(reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

func (m *MetricsExporter) RecordDephashBucket(depth int) {
	if m == nil {
		return
	}
	m.dephashBucketDepth.Observe(float64(depth))
}

func (m *MetricsExporter) RecordDephashChain(length int) {
	if m == nil {
		return
	}
	m.dephashChainLength.Observe(float64(length))
}

func (m *MetricsExporter) RecordCopyinWait(impl string, duration time.Duration) {
	if m == nil {
		return
	}
	m.copyinWaitSeconds.WithLabelValues(normalizeLabel(impl, "unknown")).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordMatchingRound(phase int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.matchingRoundSecs.Observe(duration.Seconds())
}

func domainLabel(d int) string { return fmt.Sprintf("%d", d) }

func normalizeLabel(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}

// Package metrics exports orchestrator, worker pool and saver stats to
// Prometheus. Everything is read from the published Stats snapshots at
// scrape time; nothing here touches the tick loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelflow.ai/internal/lifecycle"
	"voxelflow.ai/internal/orchestrator"
	"voxelflow.ai/internal/persistence/chunkstore"
	"voxelflow.ai/internal/pipeline"
)

const namespace = "voxelflow"

// Sources are the stats functions scraped on every collect. Nil sources are
// skipped.
type Sources struct {
	Orchestrator func() orchestrator.Stats
	Pool         func() pipeline.Stats
	Saver        func() chunkstore.SaverStats
	Connections  func() int
}

type Collector struct {
	src Sources

	chunks       *prometheus.Desc
	queue        *prometheus.Desc
	waiting      *prometheus.Desc
	results      *prometheus.Desc
	failures     *prometheus.Desc
	edits        *prometheus.Desc
	unsaved      *prometheus.Desc
	budgetUsed   *prometheus.Desc
	budgetCeil   *prometheus.Desc
	tick         *prometheus.Desc
	poolInFlight *prometheus.Desc
	poolTasks    *prometheus.Desc
	saverPending *prometheus.Desc
	saverJobs    *prometheus.Desc
	connections  *prometheus.Desc
}

func NewCollector(src Sources) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:          src,
		chunks:       d("chunks", "Loaded chunks by lifecycle state.", "state"),
		queue:        d("queue_length", "Admission queue length.", "queue"),
		waiting:      d("dependency_waiting", "Chunks waiting on neighbours to generate."),
		results:      d("results_total", "Worker results by outcome.", "outcome"),
		failures:     d("task_failures_total", "Failed worker tasks by kind.", "kind"),
		edits:        d("edits_total", "Edits by outcome.", "outcome"),
		unsaved:      d("unsaved_chunks", "Chunks holding unpersisted mutations."),
		budgetUsed:   d("budget_used_seconds", "Main-thread time charged last tick.", "category"),
		budgetCeil:   d("budget_ceiling_seconds", "Main-thread ceiling for the last tick.", "category"),
		tick:         d("tick", "Current tick."),
		poolInFlight: d("pool_in_flight", "Tasks submitted and not yet drained."),
		poolTasks:    d("pool_tasks_total", "Pool tasks by outcome.", "outcome"),
		saverPending: d("saver_pending", "Saves queued or running."),
		saverJobs:    d("saver_jobs_total", "Saver jobs by outcome.", "outcome"),
		connections:  d("connections", "Open participant connections."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.chunks, c.queue, c.waiting, c.results, c.failures, c.edits, c.unsaved,
		c.budgetUsed, c.budgetCeil, c.tick, c.poolInFlight, c.poolTasks,
		c.saverPending, c.saverJobs, c.connections,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	if c.src.Orchestrator != nil {
		st := c.src.Orchestrator()
		for _, s := range lifecycle.States {
			if s == lifecycle.Unloaded {
				continue
			}
			gauge(c.chunks, float64(st.States[s]), s.String())
		}
		gauge(c.queue, float64(st.GenQueue), "generation")
		gauge(c.queue, float64(st.MeshQueue), "meshing")
		gauge(c.waiting, float64(st.Waiting))
		counter(c.results, st.Accepted, "accepted")
		counter(c.results, st.Stale, "stale")
		counter(c.failures, st.GenFailures, "generate")
		counter(c.failures, st.MeshFailures, "mesh")
		counter(c.edits, st.EditsApplied, "applied")
		counter(c.edits, st.EditsRejected, "rejected")
		gauge(c.unsaved, float64(st.Unsaved))
		for _, u := range st.Budget {
			gauge(c.budgetUsed, u.Used.Seconds(), u.Category.String())
			gauge(c.budgetCeil, u.Ceiling.Seconds(), u.Category.String())
		}
		gauge(c.tick, float64(st.Tick))
	}
	if c.src.Pool != nil {
		st := c.src.Pool()
		gauge(c.poolInFlight, float64(st.InFlight))
		counter(c.poolTasks, st.SubmittedTotal, "submitted")
		counter(c.poolTasks, st.RefusedTotal, "refused")
		counter(c.poolTasks, st.CompletedTotal, "completed")
		counter(c.poolTasks, st.FailedTotal, "failed")
		counter(c.poolTasks, st.PanicTotal, "panicked")
	}
	if c.src.Saver != nil {
		st := c.src.Saver()
		gauge(c.saverPending, float64(st.Pending))
		counter(c.saverJobs, st.SuccessTotal, "ok")
		counter(c.saverJobs, st.FailTotal, "failed")
		counter(c.saverJobs, st.RetryTotal, "retried")
		counter(c.saverJobs, st.RefusedTotal, "refused")
	}
	if c.src.Connections != nil {
		gauge(c.connections, float64(c.src.Connections()))
	}
}

// NewRegistry registers the collector next to the Go runtime and process
// collectors.
func NewRegistry(src Sources) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

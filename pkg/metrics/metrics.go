// Package metrics exposes Prometheus metrics for the script engine.
package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Queue reports the depth of the scheduler queues.
type Queue interface {
	Stats() (immediate, waiting int)
}

// Metrics holds Prometheus metric descriptors for the engine.
type Metrics struct {
	Registry *prometheus.Registry

	queue     Queue
	startTime time.Time

	compilesTotal     *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	instructionsTotal prometheus.Counter
	failuresTotal     *prometheus.CounterVec
	consoleSessions   prometheus.Gauge
	queueDepth        *prometheus.GaugeVec
	uptimeSeconds     prometheus.Gauge
	memoryHeapBytes   prometheus.Gauge
	goroutines        prometheus.Gauge
}

// New creates the metrics in their own registry. queue may be nil.
func New(queue Queue, startTime time.Time) *Metrics {
	m := &Metrics{
		Registry:  prometheus.NewRegistry(),
		queue:     queue,
		startTime: startTime,
		compilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudscript_compiles_total",
			Help: "Script compilations by result.",
		}, []string{"result"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudscript_executions_total",
			Help: "Execution runs by the state they ended in.",
		}, []string{"state"}),
		instructionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudscript_instructions_total",
			Help: "Instructions processed since start.",
		}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudscript_runtime_failures_total",
			Help: "Failed executions by cause.",
		}, []string{"cause"}),
		consoleSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudscript_console_sessions",
			Help: "Number of open console sessions.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mudscript_queue_depth",
			Help: "Current scheduler queue depth by type.",
		}, []string{"queue_type"}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudscript_uptime_seconds",
			Help: "Daemon uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudscript_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudscript_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.Registry.MustRegister(
		m.compilesTotal,
		m.executionsTotal,
		m.instructionsTotal,
		m.failuresTotal,
		m.consoleSessions,
		m.queueDepth,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// SetQueue sets the queue whose depth is reported.
func (m *Metrics) SetQueue(q Queue) { m.queue = q }

// Compiled counts a compilation.
func (m *Metrics) Compiled(err error) {
	if err != nil {
		m.compilesTotal.WithLabelValues("error").Inc()
		return
	}
	m.compilesTotal.WithLabelValues("ok").Inc()
}

// Ran counts a run of an execution up to a halt, a failure or a
// suspension, with the instructions it processed.
func (m *Metrics) Ran(x *assembly.Execution, steps int) {
	m.instructionsTotal.Add(float64(steps))
	switch x.State {
	case assembly.StateHalted:
		m.executionsTotal.WithLabelValues("halted").Inc()
	case assembly.StateFailed:
		m.executionsTotal.WithLabelValues("failed").Inc()
		m.failuresTotal.WithLabelValues(Cause(x.Err())).Inc()
	default:
		m.executionsTotal.WithLabelValues("suspended").Inc()
	}
}

// Cause names the kind of a runtime failure, for labels.
func Cause(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, assembly.ErrStepLimit):
		return "step_limit"
	case errors.Is(err, assembly.ErrDivisionByZero):
		return "division_by_zero"
	case errors.Is(err, assembly.ErrUnknownName):
		return "unknown_name"
	case errors.Is(err, assembly.ErrBadOperand):
		return "bad_operand"
	case errors.Is(err, script.ErrArgument):
		return "argument"
	}
	return "other"
}

// SessionOpened and SessionClosed track console sessions.
func (m *Metrics) SessionOpened() { m.consoleSessions.Inc() }

func (m *Metrics) SessionClosed() { m.consoleSessions.Dec() }

// Update refreshes all gauge metrics.
func (m *Metrics) Update() {
	if m.queue != nil {
		immediate, waiting := m.queue.Stats()
		m.queueDepth.WithLabelValues("immediate").Set(float64(immediate))
		m.queueDepth.WithLabelValues("waiting").Set(float64(waiting))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}

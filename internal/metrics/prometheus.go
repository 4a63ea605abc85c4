package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "liqx_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	sampled  map[string]prometheus.CounterFunc
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		sampled:  make(map[string]prometheus.CounterFunc),
	}
	p.Metrics = &Metrics{
		PositionsRefreshed:  p.counter("positions_refreshed_total", "Total number of positions merged from the indexer."),
		PriceUnavailable:    p.counter("price_unavailable_total", "Total number of evaluations skipped for a missing price."),
		AlertsEmitted:       p.counter("alerts_emitted_total", "Total number of position alerts emitted."),
		AlertsSuppressed:    p.counter("alerts_suppressed_total", "Total number of alerts suppressed by cooldown."),
		StrategiesSelected:  p.counter("strategies_selected_total", "Total number of strategies selected."),
		NoStrategy:          p.counter("no_strategy_total", "Total number of alerts without a profitable strategy."),
		PlansBuilt:          p.counter("plans_built_total", "Total number of execution plans built."),
		QuoteFallbacks:      p.counter("quote_fallbacks_total", "Total number of quote failures replaced by estimates."),
		ExecutionsSucceeded: p.counter("executions_succeeded_total", "Total number of successful plan executions."),
		ExecutionsFailed:    p.counter("executions_failed_total", "Total number of failed plan executions."),
		DuplicatePlans:      p.counter("duplicate_plans_total", "Total number of plans ignored for a non-idle position."),
		ReasoningFallbacks:  p.counter("reasoning_fallbacks_total", "Total number of reasoning calls answered by the closed form."),
		MailboxDrops:        p.counter("mailbox_drops_total", "Total number of pipeline messages dropped on a full mailbox."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

// Sample exports a total kept by another component. read is called on every
// scrape and must be safe for concurrent use. A repeated name is ignored.
func (p *Prometheus) Sample(name, help string, read func() uint64) {
	if p == nil || read == nil {
		return
	}
	if _, ok := p.sampled[name]; ok {
		return
	}
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) })
	p.registry.MustRegister(c)
	p.sampled[name] = c
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Router mounts the metrics handler at /metrics.
func (p *Prometheus) Router() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", p.Handler())
	return r
}

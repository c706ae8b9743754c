package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BikeshR/menorepo-sub007/internal/monitor"
)

const namespace = "tradecore"

// Collector exports component snapshots at scrape time. The components keep
// their own counters, so nothing is double counted here.
type Collector struct {
	deps    Deps
	latency *monitor.LatencyHistogram

	busPublished     *prometheus.Desc
	busDropped       *prometheus.Desc
	busSubscribers   *prometheus.Desc
	breakerState     *prometheus.Desc
	breakerFailures  *prometheus.Desc
	breakerRejects   *prometheus.Desc
	ordersSubmitted  *prometheus.Desc
	ordersRejected   *prometheus.Desc
	ordersCancelled  *prometheus.Desc
	ordersActive     *prometheus.Desc
	fills            *prometheus.Desc
	tradedVolume     *prometheus.Desc
	submitLatency    *prometheus.Desc
	riskChecks       *prometheus.Desc
	riskRejections   *prometheus.Desc
	signalsTotal     *prometheus.Desc
	signalsEnabled   *prometheus.Desc
	apiLatency       *prometheus.Desc
	apiRequestsTotal *prometheus.Desc
}

func NewCollector(deps Deps, latency *monitor.LatencyHistogram) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		deps:             deps,
		latency:          latency,
		busPublished:     desc("bus_published_total", "Events published per kind", "kind"),
		busDropped:       desc("bus_dropped_total", "Events dropped on full subscriber queues per kind", "kind"),
		busSubscribers:   desc("bus_subscribers", "Live subscriptions per kind", "kind"),
		breakerState:     desc("breaker_state", "Breaker state (0 closed, 1 open, 2 half open)", "name"),
		breakerFailures:  desc("breaker_failures_total", "Failed calls through the breaker", "name"),
		breakerRejects:   desc("breaker_rejections_total", "Calls refused by the breaker", "name"),
		ordersSubmitted:  desc("orders_submitted_total", "Orders submitted to the engine"),
		ordersRejected:   desc("orders_rejected_total", "Orders ending rejected"),
		ordersCancelled:  desc("orders_cancelled_total", "Orders ending cancelled"),
		ordersActive:     desc("orders_active", "Non-terminal orders by status", "status"),
		fills:            desc("fills_total", "Fills applied"),
		tradedVolume:     desc("traded_volume_total", "Filled quantity"),
		submitLatency:    desc("submit_latency_ms", "Submission latency percentiles in milliseconds", "quantile"),
		riskChecks:       desc("risk_checks_total", "Risk evaluations"),
		riskRejections:   desc("risk_rejections_total", "Risk rejections per reason", "reason"),
		signalsTotal:     desc("signals_total", "Signals handled per outcome", "outcome"),
		signalsEnabled:   desc("signals_enabled", "1 when signal execution is enabled"),
		apiLatency:       desc("api_latency_ms", "API request latency percentiles in milliseconds", "quantile"),
		apiRequestsTotal: desc("api_requests_total", "API requests served"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.busPublished, c.busDropped, c.busSubscribers,
		c.breakerState, c.breakerFailures, c.breakerRejects,
		c.ordersSubmitted, c.ordersRejected, c.ordersCancelled, c.ordersActive,
		c.fills, c.tradedVolume, c.submitLatency,
		c.riskChecks, c.riskRejections,
		c.signalsTotal, c.signalsEnabled,
		c.apiLatency, c.apiRequestsTotal,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	quantiles := func(d *prometheus.Desc, st monitor.LatencyStats) {
		gauge(d, st.P50, "0.5")
		gauge(d, st.P95, "0.95")
		gauge(d, st.P99, "0.99")
	}

	if c.deps.Bus != nil {
		for kind, m := range c.deps.Bus.Metrics() {
			counter(c.busPublished, float64(m.Published), string(kind))
			counter(c.busDropped, float64(m.Dropped), string(kind))
			gauge(c.busSubscribers, float64(m.Subscribers), string(kind))
		}
	}
	if c.deps.Breakers != nil {
		for _, m := range c.deps.Breakers.Snapshot() {
			gauge(c.breakerState, float64(m.State), m.Name)
			counter(c.breakerFailures, float64(m.Failures), m.Name)
			counter(c.breakerRejects, float64(m.Rejections), m.Name)
		}
	}
	if c.deps.Engine != nil {
		m := c.deps.Engine.GetMetrics()
		counter(c.ordersSubmitted, float64(m.Submitted))
		counter(c.ordersRejected, float64(m.Rejections))
		counter(c.ordersCancelled, float64(m.Cancellations))
		gauge(c.ordersActive, float64(m.Pending), "pending")
		gauge(c.ordersActive, float64(m.Open), "open")
		counter(c.fills, float64(m.Fills))
		counter(c.tradedVolume, m.TradedVolume)
		quantiles(c.submitLatency, m.SubmitLatency)
	}
	if c.deps.Risk != nil {
		m := c.deps.Risk.GetMetrics()
		counter(c.riskChecks, float64(m.ChecksTotal))
		for reason, n := range m.ByReason {
			counter(c.riskRejections, float64(n), string(reason))
		}
	}
	if c.deps.Gate != nil {
		st := c.deps.Gate.Stats()
		counter(c.signalsTotal, float64(st.Submitted), "submitted")
		counter(c.signalsTotal, float64(st.Rejected), "rejected")
		counter(c.signalsTotal, float64(st.Discarded), "discarded")
		counter(c.signalsTotal, float64(st.Errors), "error")
		counter(c.signalsTotal, float64(st.Dropped), "dropped")
		enabled := 0.0
		if st.Enabled {
			enabled = 1
		}
		gauge(c.signalsEnabled, enabled)
	}
	if c.latency != nil {
		st := c.latency.Stats()
		quantiles(c.apiLatency, st)
		counter(c.apiRequestsTotal, float64(st.Total))
	}
}

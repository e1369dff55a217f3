package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const prometheusNamespace = "radiocycler"

// PrometheusCollector translates Metric values into Prometheus series backed
// by a dedicated registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*labelledVec[*prometheus.CounterVec]
	histograms map[string]*labelledVec[*prometheus.HistogramVec]
}

type labelledVec[T any] struct {
	vec    T
	labels []string
}

// NewPrometheusCollector builds a collector with an empty registry.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*labelledVec[*prometheus.CounterVec]),
		histograms: make(map[string]*labelledVec[*prometheus.HistogramVec]),
	}
}

// Collect implements MetricsCollector. Metrics with unknown types or
// inconsistent label sets are dropped rather than panicking the run.
func (c *PrometheusCollector) Collect(metric Metric) {
	if metric.Name == "" {
		return
	}

	switch metric.Type {
	case MetricCounter:
		c.collectCounter(metric)
	case MetricHistogram:
		c.collectHistogram(metric)
	}
}

// Registry returns the underlying registry for use with HTTP handlers.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler exposes the registry via an http.Handler.
func (c *PrometheusCollector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *PrometheusCollector) collectCounter(metric Metric) {
	value := metric.Value
	if value < 0 {
		value = 0
	}
	labels := cloneLabels(metric.Labels)
	names := sortedKeys(labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.counters[metric.Name]; ok {
		if !equalStringSlices(known.labels, names) {
			return
		}
		known.vec.With(labels).Add(value)
		return
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: prometheusNamespace,
		Name:      metric.Name,
		Help:      helpText(metric),
	}, names)
	if err := c.registry.Register(vec); err != nil {
		return
	}
	c.counters[metric.Name] = &labelledVec[*prometheus.CounterVec]{vec: vec, labels: names}
	vec.With(labels).Add(value)
}

func (c *PrometheusCollector) collectHistogram(metric Metric) {
	labels := cloneLabels(metric.Labels)
	names := sortedKeys(labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.histograms[metric.Name]; ok {
		if !equalStringSlices(known.labels, names) {
			return
		}
		known.vec.With(labels).Observe(metric.Value)
		return
	}

	opts := prometheus.HistogramOpts{
		Namespace: prometheusNamespace,
		Name:      metric.Name,
		Help:      helpText(metric),
	}
	if metric.Unit != "" {
		opts.ConstLabels = map[string]string{"unit": metric.Unit}
	}
	vec := prometheus.NewHistogramVec(opts, names)
	if err := c.registry.Register(vec); err != nil {
		return
	}
	c.histograms[metric.Name] = &labelledVec[*prometheus.HistogramVec]{vec: vec, labels: names}
	vec.With(labels).Observe(metric.Value)
}

func helpText(metric Metric) string {
	if strings.TrimSpace(metric.Description) != "" {
		return metric.Description
	}
	if metric.Unit != "" {
		return metric.Name + " (" + metric.Unit + ")"
	}
	return metric.Name
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneLabels(labels map[string]string) prometheus.Labels {
	if len(labels) == 0 {
		return nil
	}
	cloned := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		cloned[k] = v
	}
	return cloned
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

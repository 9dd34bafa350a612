package observability

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
)

// PrometheusExporter renders a Registry in Prometheus text exposition
// format (version 0.0.4) for scraping.
type PrometheusExporter struct {
	registry *Registry
}

func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

// ServeHTTP implements http.Handler for the /metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric as HELP/TYPE header lines
// followed by sample lines, families sorted by name.
func (e *PrometheusExporter) Format() string {
	var b strings.Builder

	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()

	for _, name := range sortedKeys(e.registry.counters) {
		c := e.registry.counters[name]
		writeFamilyHeader(&b, c.name, c.help, "counter")
		writeSample(&b, c.name, "", c.labels, promFloat(c.Value()))
		b.WriteByte('\n')
	}

	for _, name := range sortedKeys(e.registry.gauges) {
		g := e.registry.gauges[name]
		writeFamilyHeader(&b, g.name, g.help, "gauge")
		writeSample(&b, g.name, "", g.labels, promFloat(g.Value()))
		b.WriteByte('\n')
	}

	for _, name := range sortedKeys(e.registry.histograms) {
		h := e.registry.histograms[name]
		buckets, counts, sum, count := h.BucketCounts()

		writeFamilyHeader(&b, h.name, h.help, "histogram")
		for i, bound := range buckets {
			writeSample(&b, h.name, "_bucket", withLE(h.labels, promFloat(bound)), fmt.Sprintf("%d", counts[i]))
		}
		writeSample(&b, h.name, "_bucket", withLE(h.labels, "+Inf"), fmt.Sprintf("%d", count))
		writeSample(&b, h.name, "_sum", h.labels, promFloat(sum))
		writeSample(&b, h.name, "_count", h.labels, fmt.Sprintf("%d", count))
		b.WriteByte('\n')
	}

	return b.String()
}

func writeFamilyHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

func writeSample(b *strings.Builder, name, suffix string, labels map[string]string, value string) {
	b.WriteString(name)
	b.WriteString(suffix)
	b.WriteString(renderLabels(labels))
	b.WriteByte(' ')
	b.WriteString(value)
	b.WriteByte('\n')
}

// renderLabels returns {k1="v1",k2="v2"} with keys sorted, or "" when
// the metric carries no labels.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// withLE copies the base label set and adds the histogram le bound.
func withLE(base map[string]string, bound string) map[string]string {
	merged := make(map[string]string, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	merged["le"] = bound
	return merged
}

func promFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

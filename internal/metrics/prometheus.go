package metrics

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
)

const prometheusName = "aero_signaling_relay_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// All internal counters are exposed as a single metric with an `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Internal event counters.\n", prometheusName)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", prometheusName)
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", prometheusName, labelEscaper.Replace(k), snap[k])
		}
	})
}

package metrics

import (
	"bufio"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const familyName = "docsign_realtime_events_total"

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// PrometheusHandler exposes the registry in the Prometheus text format as a
// single counter family with one `event` label per counter.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}
		snap := m.Snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			names = append(names, name)
		}
		sort.Strings(names)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		bw := bufio.NewWriter(w)
		bw.WriteString("# HELP " + familyName + " Realtime session event counters.\n")
		bw.WriteString("# TYPE " + familyName + " counter\n")
		for _, name := range names {
			bw.WriteString(familyName + `{event="` + labelEscaper.Replace(name) + `"} `)
			bw.WriteString(strconv.FormatUint(snap[name], 10))
			bw.WriteByte('\n')
		}
		_ = bw.Flush()
	})
}

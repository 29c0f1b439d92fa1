// prometheus.go - Prometheus text-format exporter for the in-process counters.
package server

import (
	"fmt"
	"net/http"
	"strings"
)

// metricsHandler serves GET /metrics in Prometheus exposition format.
func metricsHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap := GetMetrics().Snapshot()

		var out strings.Builder
		out.WriteString("# HELP imagehub_info Application version info\n")
		out.WriteString("# TYPE imagehub_info gauge\n")
		fmt.Fprintf(&out, "imagehub_info{version=%q} 1\n\n", version)

		writeCounter := func(name, help string, value int64) {
			fmt.Fprintf(&out, "# HELP %s %s\n", name, help)
			fmt.Fprintf(&out, "# TYPE %s counter\n", name)
			fmt.Fprintf(&out, "%s %d\n\n", name, value)
		}

		writeCounter("imagehub_fragments_total", "Fragments accepted", snap.FragmentsTotal)
		writeCounter("imagehub_merges_total", "Successful chunk merges", snap.MergesTotal)
		writeCounter("imagehub_merge_bytes_total", "Bytes merged", snap.MergeBytesTotal)
		writeCounter("imagehub_merge_errors_total", "Failed chunk merges", snap.MergeErrorsTotal)
		writeCounter("imagehub_merge_duration_ms_total", "Cumulative merge duration in milliseconds", snap.MergeDurationMs)
		writeCounter("imagehub_uploads_total", "Direct uploads", snap.UploadsTotal)
		writeCounter("imagehub_upload_bytes_total", "Bytes uploaded directly", snap.UploadBytesTotal)
		writeCounter("imagehub_login_attempts_total", "Login attempts", snap.LoginAttemptsTotal)
		writeCounter("imagehub_login_success_total", "Successful logins", snap.LoginSuccessTotal)
		writeCounter("imagehub_login_failures_total", "Failed logins", snap.LoginFailuresTotal)
		writeCounter("imagehub_requests_total", "HTTP requests", snap.RequestsTotal)
		writeCounter("imagehub_request_errors_4xx_total", "HTTP 4xx responses", snap.RequestErrors4xx)
		writeCounter("imagehub_request_errors_5xx_total", "HTTP 5xx responses", snap.RequestErrors5xx)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(out.String()))
	}
}

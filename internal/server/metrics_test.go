package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := &Metrics{}

	m.RecordFragment()
	m.RecordFragment()
	m.RecordMerge(1024, 50*time.Millisecond)
	m.RecordMergeError()
	m.RecordUpload(2048)
	m.RecordLogin(true)
	m.RecordLogin(false)
	m.RecordRequest(200)
	m.RecordRequest(404)
	m.RecordRequest(502)

	snap := m.Snapshot()
	if snap.FragmentsTotal != 2 {
		t.Fatalf("fragments = %d", snap.FragmentsTotal)
	}
	if snap.MergesTotal != 1 || snap.MergeBytesTotal != 1024 || snap.MergeDurationMs != 50 {
		t.Fatalf("merge counters: %+v", snap)
	}
	if snap.MergeErrorsTotal != 1 {
		t.Fatalf("merge errors = %d", snap.MergeErrorsTotal)
	}
	if snap.UploadsTotal != 1 || snap.UploadBytesTotal != 2048 {
		t.Fatalf("upload counters: %+v", snap)
	}
	if snap.LoginAttemptsTotal != 2 || snap.LoginSuccessTotal != 1 || snap.LoginFailuresTotal != 1 {
		t.Fatalf("login counters: %+v", snap)
	}
	if snap.RequestsTotal != 3 || snap.RequestErrors4xx != 1 || snap.RequestErrors5xx != 1 {
		t.Fatalf("request counters: %+v", snap)
	}
}

func TestMetricsHandler(t *testing.T) {
	h := metricsHandler("test-version")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`imagehub_info{version="test-version"} 1`,
		"imagehub_fragments_total",
		"imagehub_merges_total",
		"imagehub_merge_errors_total",
		"# TYPE imagehub_merges_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

package server

import (
	"sync"
	"time"
)

// Metrics holds process-local counters surfaced at /metrics.
type Metrics struct {
	mu sync.RWMutex

	// Chunk pipeline
	fragmentsTotal     int64
	mergesTotal        int64
	mergeBytesTotal    int64
	mergeErrorsTotal   int64
	mergeDurationTotal time.Duration

	// Direct uploads
	uploadsTotal     int64
	uploadBytesTotal int64

	// Auth
	loginAttemptsTotal int64
	loginSuccessTotal  int64
	loginFailuresTotal int64

	// HTTP
	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64
}

var globalMetrics = &Metrics{}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordFragment counts one accepted fragment.
func (m *Metrics) RecordFragment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragmentsTotal++
}

// RecordMerge counts one successful merge.
func (m *Metrics) RecordMerge(bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergesTotal++
	m.mergeBytesTotal += bytes
	m.mergeDurationTotal += duration
}

// RecordMergeError counts one failed merge.
func (m *Metrics) RecordMergeError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeErrorsTotal++
}

// RecordUpload counts one direct upload.
func (m *Metrics) RecordUpload(bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
	m.uploadBytesTotal += bytes
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginAttemptsTotal++
	if success {
		m.loginSuccessTotal++
	} else {
		m.loginFailuresTotal++
	}
}

// RecordRequest counts one HTTP request by status class.
func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	switch {
	case status >= 500:
		m.requestErrors5xx++
	case status >= 400:
		m.requestErrors4xx++
	}
}

// MetricsSnapshot is a read-only copy of the counters.
type MetricsSnapshot struct {
	FragmentsTotal     int64
	MergesTotal        int64
	MergeBytesTotal    int64
	MergeErrorsTotal   int64
	MergeDurationMs    int64
	UploadsTotal       int64
	UploadBytesTotal   int64
	LoginAttemptsTotal int64
	LoginSuccessTotal  int64
	LoginFailuresTotal int64
	RequestsTotal      int64
	RequestErrors4xx   int64
	RequestErrors5xx   int64
}

// Snapshot returns a consistent copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		FragmentsTotal:     m.fragmentsTotal,
		MergesTotal:        m.mergesTotal,
		MergeBytesTotal:    m.mergeBytesTotal,
		MergeErrorsTotal:   m.mergeErrorsTotal,
		MergeDurationMs:    m.mergeDurationTotal.Milliseconds(),
		UploadsTotal:       m.uploadsTotal,
		UploadBytesTotal:   m.uploadBytesTotal,
		LoginAttemptsTotal: m.loginAttemptsTotal,
		LoginSuccessTotal:  m.loginSuccessTotal,
		LoginFailuresTotal: m.loginFailuresTotal,
		RequestsTotal:      m.requestsTotal,
		RequestErrors4xx:   m.requestErrors4xx,
		RequestErrors5xx:   m.requestErrors5xx,
	}
}

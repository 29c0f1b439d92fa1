// sweep.go - Garbage collection for abandoned fragment sets.
//
// There is no per-session expiry; the sweep walks the staging directory
// file by file and removes anything older than the threshold, whether or
// not its upload ever completed.
package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Sweep deletes staging files whose age strictly exceeds maxAge, comparing
// last-modified time against now. A file exactly at the threshold
// survives. Returns the number of files deleted; individual failures are
// logged and skipped.
func (c *chunkStore) Sweep(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		Error("sweep failed to read chunk dir", map[string]any{"dir": c.dir}, err)
		return 0
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Strict comparison: only files modified before the cutoff go.
		if !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(p); err != nil {
			Warn("sweep delete failed", map[string]any{"path": p, "error": err.Error()})
			continue
		}
		deleted++
	}
	return deleted
}

// cleanupChunksHandler handles DELETE /api/chunk/cleanup?expireHours=.
func (s *Server) cleanupChunksHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		expireHours := 24
		if v := r.URL.Query().Get("expireHours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed expireHours")
				return
			}
			expireHours = n
		}

		deleted := s.chunks.Sweep(time.Duration(expireHours)*time.Hour, time.Now())
		Info("fragment sweep complete", map[string]any{"expireHours": expireHours, "deleted": deleted})
		respondJSON(w, http.StatusOK, "cleanup complete", map[string]any{
			"deletedCount": deleted,
		})
	}))
}

// StartSweepJob periodically runs the fragment sweep until ctx is done.
// Optional; the cleanup endpoint covers deployments without it.
func (s *Server) StartSweepJob(ctx context.Context) {
	interval, maxAge := s.cfg.SweepInterval, s.cfg.SweepMaxAge
	Info("sweep job starting", map[string]any{"interval": interval.String(), "max_age": maxAge.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			Info("sweep job stopping", nil)
			return
		case <-ticker.C:
			deleted := s.chunks.Sweep(maxAge, time.Now())
			if deleted > 0 {
				Info("scheduled sweep complete", map[string]any{"deleted": deleted})
			}
		}
	}
}

// records.go - Login and upload bookkeeping.
//
// Records are written off the request path: a failed insert or a slow
// geo-IP lookup must never delay or fail the request that triggered it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/mileusna/useragent"
)

// geoInfo is the subset of the ip-api.com response we keep.
type geoInfo struct {
	Country string `json:"country"`
	Region  string `json:"regionName"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
	Status  string `json:"status"`
}

// newGeoClient builds the retrying HTTP client used for geo-IP and
// public-IP lookups. Retries are short: these calls are advisory.
func newGeoClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = 3 * time.Second
	c.Logger = nil
	return c
}

// lookupGeo resolves a client IP to region/ISP via ip-api.com.
// Private and unresolvable addresses return an empty geoInfo, not an error
// the caller has to care about.
func (s *Server) lookupGeo(ctx context.Context, ip string) geoInfo {
	if ip == "" {
		return geoInfo{}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://ip-api.com/json/%s", ip), nil)
	if err != nil {
		return geoInfo{}
	}
	resp, err := s.geo.Do(req)
	if err != nil {
		return geoInfo{}
	}
	defer func() { _ = resp.Body.Close() }()

	var info geoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Status != "success" {
		return geoInfo{}
	}
	return info
}

// recordLoginAsync writes one login-record row in the background.
func (s *Server) recordLoginAsync(r *http.Request, userID, username, status, failReason string) {
	ip := clientIP(r)
	ua := useragent.Parse(r.UserAgent())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		geo := s.lookupGeo(ctx, ip)
		region := geo.Country
		if geo.City != "" {
			region += " " + geo.City
		} else if geo.Region != "" {
			region += " " + geo.Region
		}

		browser := ua.Name
		if ua.Version != "" {
			browser += " " + ua.Version
		}

		var uid any
		if userID != "" {
			uid = userID
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO login_records (id, user_id, username, ip, region, isp, browser, os, status, fail_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, uuid.New().String(), uid, username, ip, region, geo.ISP, browser, ua.OS, status, failReason)
		if err != nil {
			Error("login record insert failed", map[string]any{"username": username}, err)
		}
	}()
}

// recordUploadAsync writes one upload-record row in the background.
func (s *Server) recordUploadAsync(user *authUser, fileCount int, totalBytes int64, kind string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var uid any
		if user.ID != "" {
			uid = user.ID
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO upload_records (id, user_id, username, file_count, total_bytes, file_type)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), uid, user.Username, fileCount, totalBytes, kind)
		if err != nil {
			Error("upload record insert failed", map[string]any{"username": user.Username}, err)
		}
	}()
}

// uploadStatsHandler handles GET /api/stats/uploads: per-user aggregates.
func (s *Server) uploadStatsHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var files, records int64
		var bytes int64
		err := s.db.QueryRowContext(r.Context(), `
			SELECT COALESCE(SUM(file_count), 0), COALESCE(SUM(total_bytes), 0), COUNT(*)
			FROM upload_records WHERE user_id = $1
		`, user.ID).Scan(&files, &bytes, &records)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"totalFiles":   files,
			"totalBytes":   bytes,
			"totalUploads": records,
		})
	}))
}

// loginRecordsHandler handles GET /api/stats/logins: the caller's recent
// login history, admins see everyone's.
func (s *Server) loginRecordsHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		page, pageSize := pagination(r, 1, 20)

		const columns = `id, username, ip, region, isp, browser, os, status, fail_reason, created_at`

		var query string
		var args []any
		if user.IsAdmin && r.URL.Query().Get("all") == "true" {
			query = `SELECT ` + columns + ` FROM login_records
				ORDER BY created_at DESC LIMIT $1 OFFSET $2`
			args = []any{pageSize, (page - 1) * pageSize}
		} else {
			query = `SELECT ` + columns + ` FROM login_records WHERE user_id = $1
				ORDER BY created_at DESC LIMIT $2 OFFSET $3`
			args = []any{user.ID, pageSize, (page - 1) * pageSize}
		}

		rows, err := s.db.QueryContext(r.Context(), query, args...)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		defer rows.Close()

		type loginRecord struct {
			ID         string    `json:"id"`
			Username   string    `json:"username"`
			IP         string    `json:"ip"`
			Region     string    `json:"region"`
			ISP        string    `json:"isp"`
			Browser    string    `json:"browser"`
			OS         string    `json:"os"`
			Status     string    `json:"status"`
			FailReason string    `json:"failReason"`
			CreatedAt  time.Time `json:"createdAt"`
		}

		records := []loginRecord{}
		for rows.Next() {
			var rec loginRecord
			if err := rows.Scan(&rec.ID, &rec.Username, &rec.IP, &rec.Region, &rec.ISP,
				&rec.Browser, &rec.OS, &rec.Status, &rec.FailReason, &rec.CreatedAt); err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
				return
			}
			records = append(records, rec)
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"page":     page,
			"pageSize": pageSize,
			"records":  records,
		})
	}))
}

package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// imageRecord is the stored file record: the terminal output of an upload
// or merge, and the unit everything else (listing, favorites) works on.
type imageRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	ObjectKey   string    `json:"-"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"type"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Server) insertImage(ctx context.Context, rec *imageRecord) error {
	var userID any
	if rec.UserID != "" {
		userID = rec.UserID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (id, name, description, url, object_key, size_bytes, mime_type, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Name, rec.Description, rec.URL, rec.ObjectKey, rec.Size, rec.MimeType, userID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert image record: %w", err)
	}
	return nil
}

func scanImage(row interface{ Scan(...any) error }) (*imageRecord, error) {
	var rec imageRecord
	var userID sql.NullString
	err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.URL, &rec.ObjectKey,
		&rec.Size, &rec.MimeType, &userID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	return &rec, nil
}

const imageColumns = `id, name, description, url, object_key, size_bytes, mime_type, user_id, created_at`

// listImagesHandler handles GET /api/image/list. Public. Supports paging
// and filtering by kind (image|video) or owner.
func (s *Server) listImagesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := pagination(r, 1, 20)

		where := []string{"TRUE"}
		args := []any{}
		n := 1

		switch r.URL.Query().Get("type") {
		case "image":
			where = append(where, fmt.Sprintf("mime_type LIKE $%d", n))
			args = append(args, "image/%")
			n++
		case "video":
			where = append(where, fmt.Sprintf("mime_type LIKE $%d", n))
			args = append(args, "video/%")
			n++
		}
		if owner := r.URL.Query().Get("userId"); owner != "" {
			if _, err := uuid.Parse(owner); err != nil {
				respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed userId")
				return
			}
			where = append(where, fmt.Sprintf("user_id = $%d", n))
			args = append(args, owner)
			n++
		}

		cond := strings.Join(where, " AND ")

		var total int
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM images WHERE `+cond, args...).Scan(&total); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}

		query := fmt.Sprintf(`SELECT %s FROM images WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			imageColumns, cond, n, n+1)
		args = append(args, pageSize, (page-1)*pageSize)

		rows, err := s.db.QueryContext(r.Context(), query, args...)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		defer rows.Close()

		images := []*imageRecord{}
		for rows.Next() {
			rec, err := scanImage(rows)
			if err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
				return
			}
			images = append(images, rec)
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"total":    total,
			"page":     page,
			"pageSize": pageSize,
			"images":   images,
		})
	})
}

// imageDetailHandler handles GET /api/image/detail/{imageId}. Public.
func (s *Server) imageDetailHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("imageId")
		if _, err := uuid.Parse(id); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		rec, err := scanImage(s.db.QueryRowContext(r.Context(),
			`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
		if err != nil {
			if err == sql.ErrNoRows {
				respondError(w, http.StatusNotFound, codeNotFound, "image not found")
				return
			}
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}

		respondJSON(w, http.StatusOK, "query ok", rec)
	})
}

// storeUploadedFile spools one multipart file part to a scratch file,
// sniffs and validates its content type, pushes it to object storage, and
// inserts the image row. Shared by single and batch upload.
func (s *Server) storeUploadedFile(ctx context.Context, user *authUser, part multipart.File, origName, customName, description string) (*imageRecord, error) {
	tmp, err := os.CreateTemp("", "imagehub-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, part)
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if size > s.cfg.MaxUploadBytes {
		return nil, errFileTooLarge
	}

	// Trust the bytes, not the client's Content-Type header.
	mt, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	contentType := mt.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	if !allowedContentTypes[contentType] {
		return nil, errUnsupportedType
	}

	fileName := strings.TrimSpace(customName)
	if fileName == "" {
		fileName = timestampName(origName)
	} else if path.Ext(fileName) == "" {
		// Custom name without an extension keeps the original's.
		fileName += strings.ToLower(path.Ext(origName))
	}
	if strings.ContainsAny(fileName, "/\\") || strings.Contains(fileName, "..") {
		return nil, errBadFileName
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind scratch file: %w", err)
	}

	key := s.store.objectKey(user.Username, fileName)
	url, err := s.store.Put(ctx, key, tmp, size, contentType)
	if err != nil {
		return nil, &storageFailure{err: err}
	}

	rec := &imageRecord{
		ID:          uuid.New().String(),
		Name:        fileName,
		Description: description,
		URL:         url,
		ObjectKey:   key,
		Size:        size,
		MimeType:    contentType,
		UserID:      user.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insertImage(ctx, rec); err != nil {
		if derr := s.store.Remove(ctx, key); derr != nil {
			Error("orphaned object after failed record insert", map[string]any{"key": key}, derr)
		}
		return nil, err
	}

	GetMetrics().RecordUpload(size)
	return rec, nil
}

var (
	errFileTooLarge    = fmt.Errorf("file exceeds size limit")
	errUnsupportedType = fmt.Errorf("unsupported file type")
	errBadFileName     = fmt.Errorf("malformed file name")
)

func respondUploadError(w http.ResponseWriter, err error) {
	var storage *storageFailure
	switch {
	case err == errFileTooLarge:
		respondError(w, http.StatusRequestEntityTooLarge, codeInvalidRequest, "file too large")
	case err == errUnsupportedType:
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "unsupported file type")
	case err == errBadFileName:
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed file name")
	case errors.As(err, &storage):
		respondError(w, http.StatusBadGateway, codeStorageError, "failed to store file")
	default:
		respondError(w, http.StatusInternalServerError, codeInternalError, "upload failed")
	}
}

// uploadImageHandler handles POST /api/image/upload. Single multipart file.
func (s *Server) uploadImageHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "missing file part")
			return
		}
		defer func() { _ = file.Close() }()

		user := userFromContext(r.Context())
		rec, err := s.storeUploadedFile(r.Context(), user, file,
			header.Filename, r.FormValue("name"), r.FormValue("description"))
		if err != nil {
			Error("upload failed", map[string]any{"user": user.Username, "file": header.Filename}, err)
			respondUploadError(w, err)
			return
		}

		s.recordUploadAsync(user, 1, rec.Size, fileKind(rec.MimeType))
		respondJSON(w, http.StatusOK, "upload ok", rec)
	}))
}

// batchUploadImagesHandler handles POST /api/image/batch-upload: several
// "files" parts in one request. Partial success is reported per file.
func (s *Server) batchUploadImagesHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(64 << 20); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad multipart form")
			return
		}
		if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "no files supplied")
			return
		}

		user := userFromContext(r.Context())
		uploaded := []*imageRecord{}
		failed := []map[string]string{}
		var totalBytes int64

		for _, header := range r.MultipartForm.File["files"] {
			file, err := header.Open()
			if err != nil {
				failed = append(failed, map[string]string{"name": header.Filename, "reason": "unreadable part"})
				continue
			}
			rec, err := s.storeUploadedFile(r.Context(), user, file, header.Filename, "", "")
			_ = file.Close()
			if err != nil {
				Warn("batch upload item failed", map[string]any{"file": header.Filename, "error": err.Error()})
				failed = append(failed, map[string]string{"name": header.Filename, "reason": err.Error()})
				continue
			}
			uploaded = append(uploaded, rec)
			totalBytes += rec.Size
		}

		if len(uploaded) > 0 {
			s.recordUploadAsync(user, len(uploaded), totalBytes, fileKind(uploaded[0].MimeType))
		}

		respondJSON(w, http.StatusOK, "batch upload complete", map[string]any{
			"uploaded": uploaded,
			"failed":   failed,
		})
	}))
}

type updateImageReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// updateImageHandler handles PUT /api/image/{imageId}. Owner or admin only.
func (s *Server) updateImageHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("imageId")
		if _, err := uuid.Parse(id); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		var req updateImageReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		if req.Name == nil && req.Description == nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "nothing to update")
			return
		}

		rec := s.loadOwnedImage(r, w, id)
		if rec == nil {
			return
		}

		if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
			rec.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			rec.Description = *req.Description
		}

		if _, err := s.db.ExecContext(r.Context(),
			`UPDATE images SET name = $2, description = $3 WHERE id = $1`,
			id, rec.Name, rec.Description); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "update failed")
			return
		}

		respondJSON(w, http.StatusOK, "update ok", rec)
	}))
}

// loadOwnedImage fetches an image and enforces owner-or-admin access.
// Writes the error response itself and returns nil when access fails.
func (s *Server) loadOwnedImage(r *http.Request, w http.ResponseWriter, id string) *imageRecord {
	rec, err := scanImage(s.db.QueryRowContext(r.Context(),
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, codeNotFound, "image not found")
		} else {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
		}
		return nil
	}

	user := userFromContext(r.Context())
	if rec.UserID != user.ID && !user.IsAdmin {
		respondError(w, http.StatusForbidden, codeForbidden, "not the owner of this image")
		return nil
	}
	return rec
}

// deleteImageHandler handles DELETE /api/image/{imageId}. Removes the row
// first, then the stored object best-effort.
func (s *Server) deleteImageHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("imageId")
		if _, err := uuid.Parse(id); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		rec := s.loadOwnedImage(r, w, id)
		if rec == nil {
			return
		}

		if _, err := s.db.ExecContext(r.Context(), `DELETE FROM images WHERE id = $1`, id); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "delete failed")
			return
		}

		if err := s.store.Remove(r.Context(), rec.ObjectKey); err != nil {
			Warn("stored object delete failed", map[string]any{"key": rec.ObjectKey, "error": err.Error()})
		}

		respondJSON(w, http.StatusOK, "delete ok", map[string]any{"id": id})
	}))
}

type batchDeleteReq struct {
	ImageIDs []string `json:"imageIds"`
}

// batchDeleteImagesHandler handles POST /api/image/batch-delete.
func (s *Server) batchDeleteImagesHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req batchDeleteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ImageIDs) == 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "imageIds is required")
			return
		}

		user := userFromContext(r.Context())
		deleted := []string{}
		failed := []string{}

		for _, id := range req.ImageIDs {
			if _, err := uuid.Parse(id); err != nil {
				failed = append(failed, id)
				continue
			}
			rec, err := scanImage(s.db.QueryRowContext(r.Context(),
				`SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
			if err != nil {
				failed = append(failed, id)
				continue
			}
			if rec.UserID != user.ID && !user.IsAdmin {
				failed = append(failed, id)
				continue
			}
			if _, err := s.db.ExecContext(r.Context(), `DELETE FROM images WHERE id = $1`, id); err != nil {
				failed = append(failed, id)
				continue
			}
			if err := s.store.Remove(r.Context(), rec.ObjectKey); err != nil {
				Warn("stored object delete failed", map[string]any{"key": rec.ObjectKey, "error": err.Error()})
			}
			deleted = append(deleted, id)
		}

		respondJSON(w, http.StatusOK, "batch delete complete", map[string]any{
			"deleted": deleted,
			"failed":  failed,
		})
	}))
}

// pagination parses page/pageSize query params with sane bounds.
func pagination(r *http.Request, defaultPage, defaultSize int) (page, pageSize int) {
	page, pageSize = defaultPage, defaultSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 && v <= 100 {
		pageSize = v
	}
	return page, pageSize
}

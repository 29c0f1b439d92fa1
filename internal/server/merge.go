// merge.go - The chunked-upload merge pipeline.
//
// merge = preflight -> concatenate -> fsync -> verify -> push to object
// storage -> insert metadata row -> best-effort cleanup. The only hard
// failure points are the preflight, the checksum verification, and the
// storage push; cleanup failures never undo a merge that already succeeded.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type mergeRequest struct {
	FileHash    string `json:"fileHash"`
	FileName    string `json:"fileName"`
	ChunkTotal  int    `json:"chunkTotal"`
	FileMD5     string `json:"fileMD5"`
	Description string `json:"description"`
}

// mergeChunksHandler handles POST /api/chunk/merge.
func (s *Server) mergeChunksHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req mergeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		req.FileName = strings.TrimSpace(req.FileName)

		if req.FileHash == "" || req.FileName == "" || req.ChunkTotal <= 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "fileHash, fileName, chunkTotal are required")
			return
		}
		if !validFingerprint(req.FileHash) {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed fileHash")
			return
		}
		if strings.ContainsAny(req.FileName, "/\\") || strings.Contains(req.FileName, "..") {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed fileName")
			return
		}

		// requireAuth guarantees a user; merges are never anonymous.
		user := userFromContext(r.Context())

		if err := s.chunks.tryLockMerge(req.FileHash); err != nil {
			respondError(w, http.StatusConflict, codeMergeInProgress, "a merge for this file is already running")
			return
		}
		defer s.chunks.unlockMerge(req.FileHash)

		rec, err := s.runMerge(r, req, user)
		if err != nil {
			s.respondMergeError(w, req, err)
			return
		}

		respondJSON(w, http.StatusOK, "file merged", rec)
	}))
}

// runMerge executes the pipeline after validation and locking.
func (s *Server) runMerge(r *http.Request, req mergeRequest, user *authUser) (*imageRecord, error) {
	start := time.Now()
	Info("merge started", map[string]any{
		"fileHash": req.FileHash, "fileName": req.FileName,
		"chunkTotal": req.ChunkTotal, "user": user.Username,
	})

	mergedPath, size, err := s.chunks.Assemble(req.FileHash, req.ChunkTotal, req.FileMD5)
	if err != nil {
		return nil, err
	}

	mimeType := mimeTypeForName(req.FileName)
	key := s.store.objectKey(user.Username, req.FileName)

	artifact, err := os.Open(mergedPath)
	if err != nil {
		return nil, err
	}

	url, err := s.store.Put(r.Context(), key, artifact, size, mimeType)
	_ = artifact.Close()
	if err != nil {
		// Terminal for this invocation, but the merged artifact and the
		// fragments stay on disk so the merge can be retried.
		GetMetrics().RecordMergeError()
		return nil, &storageFailure{err: err}
	}

	rec := &imageRecord{
		ID:          uuid.New().String(),
		Name:        req.FileName,
		Description: req.Description,
		URL:         url,
		ObjectKey:   key,
		Size:        size,
		MimeType:    mimeType,
		UserID:      user.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.insertImage(r.Context(), rec); err != nil {
		// A durable object now exists with no metadata row. Close the
		// window with a compensating delete; if that also fails we can
		// only log the orphan.
		if derr := s.store.Remove(r.Context(), key); derr != nil {
			Error("orphaned object after failed record insert", map[string]any{
				"key": key, "insert_error": err.Error(),
			}, derr)
		}
		return nil, err
	}

	// Success is decided at this point. Everything below is best effort.
	s.recordUploadAsync(user, 1, size, fileKind(mimeType))

	s.chunks.RemoveFragments(req.FileHash, req.ChunkTotal)
	if err := os.Remove(mergedPath); err != nil && !os.IsNotExist(err) {
		Warn("merged artifact cleanup failed", map[string]any{"path": mergedPath, "error": err.Error()})
	}

	GetMetrics().RecordMerge(size, time.Since(start))
	Info("merge complete", map[string]any{
		"fileHash": req.FileHash, "id": rec.ID, "bytes": size,
		"ms": time.Since(start).Milliseconds(),
	})
	return rec, nil
}

// storageFailure tags errors from the durable-storage push so the handler
// can map them to the storage_error code.
type storageFailure struct {
	err error
}

func (e *storageFailure) Error() string { return e.err.Error() }
func (e *storageFailure) Unwrap() error { return e.err }

func (s *Server) respondMergeError(w http.ResponseWriter, req mergeRequest, err error) {
	var incomplete *incompleteUploadError
	var storage *storageFailure

	switch {
	case errors.As(err, &incomplete):
		Warn("merge aborted, upload incomplete", map[string]any{
			"fileHash": req.FileHash, "missingIndex": incomplete.Index,
		})
		respondErrorData(w, http.StatusBadRequest, codeIncompleteUpload, incomplete.Error(),
			map[string]any{"missingIndex": incomplete.Index})
	case errors.Is(err, errChecksumMismatch):
		Warn("merged artifact checksum mismatch", map[string]any{"fileHash": req.FileHash})
		respondError(w, http.StatusBadRequest, codeIntegrityError, "file checksum mismatch, merged file discarded")
	case errors.As(err, &storage):
		Error("storage push failed", map[string]any{"fileHash": req.FileHash}, err)
		respondError(w, http.StatusBadGateway, codeStorageError, "failed to store merged file")
	default:
		Error("merge failed", map[string]any{"fileHash": req.FileHash}, err)
		respondError(w, http.StatusInternalServerError, codeInternalError, "merge failed")
	}
}

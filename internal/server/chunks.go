// chunks.go - Fragment storage for chunked uploads.
//
// A chunked upload has no session record: its state is the set of fragment
// files on disk, named fileHash_index inside the staging directory. The
// merge endpoint turns a complete fragment set into a stored file.
package server

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

// errChecksumMismatch reports a fragment or merged artifact whose content
// hash does not match the checksum the client declared.
var errChecksumMismatch = errors.New("checksum mismatch")

// errMergeInProgress reports a concurrent merge for the same fingerprint.
var errMergeInProgress = errors.New("merge already in progress")

// incompleteUploadError names the first missing fragment index found when a
// merge was attempted before the upload completed.
type incompleteUploadError struct {
	Index int
}

func (e *incompleteUploadError) Error() string {
	return fmt.Sprintf("fragment %d is missing", e.Index)
}

// fingerprintPattern constrains client-supplied fingerprints so they can be
// used directly in file names. Hex digests and UUID-ish values pass.
var fingerprintPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func validFingerprint(hash string) bool {
	return fingerprintPattern.MatchString(hash)
}

// chunkStore owns the fragment staging directory and the per-fingerprint
// merge locks. Distinct uploads never collide because fragments are keyed
// by (fingerprint, index) and fingerprints are unique per logical file.
type chunkStore struct {
	dir string

	mu      sync.Mutex
	merging map[string]struct{}
}

func newChunkStore(dir string) (*chunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir %q: %w", dir, err)
	}
	return &chunkStore{dir: dir, merging: make(map[string]struct{})}, nil
}

// fragmentPath returns the on-disk location of one fragment.
func (c *chunkStore) fragmentPath(hash string, index int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%d", hash, index))
}

// mergedPath is the temporary location of the concatenated artifact.
func (c *chunkStore) mergedPath(hash string) string {
	return filepath.Join(c.dir, hash)
}

// WriteFragment persists one fragment. The bytes are streamed to a scratch
// file and renamed into place, so a fragment is either fully present or
// absent; re-uploading an index replaces the previous bytes. When wantMD5
// is non-empty the content hash is verified before the rename and a
// mismatch leaves no fragment behind.
func (c *chunkStore) WriteFragment(hash string, index int, r io.Reader, wantMD5 string) error {
	final := c.fragmentPath(hash, index)

	tmp, err := os.CreateTemp(c.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-ops once the rename has happened.
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	sum := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, sum), r); err != nil {
		return fmt.Errorf("write fragment %s_%d: %w", hash, index, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync fragment %s_%d: %w", hash, index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fragment %s_%d: %w", hash, index, err)
	}

	if wantMD5 != "" && hex.EncodeToString(sum.Sum(nil)) != wantMD5 {
		return errChecksumMismatch
	}

	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("commit fragment %s_%d: %w", hash, index, err)
	}
	return nil
}

// Present probes which fragment indices in [0, total) exist right now.
// Advisory: concurrent ingestion may change the answer immediately after.
func (c *chunkStore) Present(hash string, total int) (indices []int, complete bool) {
	indices = make([]int, 0, total)
	for i := 0; i < total; i++ {
		if _, err := os.Stat(c.fragmentPath(hash, i)); err == nil {
			indices = append(indices, i)
		}
	}
	sort.Ints(indices)
	return indices, len(indices) == total
}

// tryLockMerge claims the per-fingerprint merge lock. At most one merge
// runs per fingerprint at a time; the loser gets errMergeInProgress.
func (c *chunkStore) tryLockMerge(hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.merging[hash]; busy {
		return errMergeInProgress
	}
	c.merging[hash] = struct{}{}
	return nil
}

func (c *chunkStore) unlockMerge(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.merging, hash)
}

// Assemble concatenates fragments 0..total-1 in ascending index order into
// the temporary merged artifact and returns its path and size. Every
// fragment must exist up front; the first missing index aborts the whole
// operation and any partial output is discarded. When wantMD5 is non-empty
// the merged bytes are verified and a mismatch deletes the artifact.
//
// On any error no merged artifact remains on disk and all fragments are
// left intact, so the merge is retryable from scratch.
func (c *chunkStore) Assemble(hash string, total int, wantMD5 string) (string, int64, error) {
	// Preflight: every index must be present before a single byte is written.
	for i := 0; i < total; i++ {
		if _, err := os.Stat(c.fragmentPath(hash, i)); err != nil {
			return "", 0, &incompleteUploadError{Index: i}
		}
	}

	dst := c.mergedPath(hash)
	out, err := os.Create(dst)
	if err != nil {
		return "", 0, fmt.Errorf("create merged artifact: %w", err)
	}

	discard := func() {
		_ = out.Close()
		_ = os.Remove(dst)
	}

	sum := md5.New()
	w := io.MultiWriter(out, sum)
	var size int64

	for i := 0; i < total; i++ {
		frag, err := os.Open(c.fragmentPath(hash, i))
		if err != nil {
			// Raced with a sweep. Treat as incomplete, discard partial output.
			discard()
			return "", 0, &incompleteUploadError{Index: i}
		}
		n, err := io.Copy(w, frag)
		_ = frag.Close()
		if err != nil {
			discard()
			return "", 0, fmt.Errorf("append fragment %d: %w", i, err)
		}
		size += n
	}

	// All bytes must be durable locally before verification or upload.
	if err := out.Sync(); err != nil {
		discard()
		return "", 0, fmt.Errorf("sync merged artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", 0, fmt.Errorf("close merged artifact: %w", err)
	}

	if wantMD5 != "" && hex.EncodeToString(sum.Sum(nil)) != wantMD5 {
		_ = os.Remove(dst)
		return "", 0, errChecksumMismatch
	}

	return dst, size, nil
}

// RemoveFragments deletes all fragment files for a fingerprint.
// Best effort: individual failures are logged, not returned.
func (c *chunkStore) RemoveFragments(hash string, total int) {
	for i := 0; i < total; i++ {
		p := c.fragmentPath(hash, i)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			Warn("fragment cleanup failed", map[string]any{"path": p, "error": err.Error()})
		}
	}
}

// uploadChunkHandler handles POST /api/chunk/upload. Multipart form with a
// "file" part plus fileHash, chunkIndex, chunkTotal and optional chunkMD5.
func (s *Server) uploadChunkHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad multipart form")
			return
		}

		hash := r.FormValue("fileHash")
		indexStr := r.FormValue("chunkIndex")
		totalStr := r.FormValue("chunkTotal")
		wantMD5 := r.FormValue("chunkMD5")

		if hash == "" || indexStr == "" || totalStr == "" {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "fileHash, chunkIndex, chunkTotal are required")
			return
		}
		if !validFingerprint(hash) {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed fileHash")
			return
		}
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed chunkIndex")
			return
		}
		total, err := strconv.Atoi(totalStr)
		if err != nil || total <= 0 || index >= total {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed chunkTotal")
			return
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "missing file part")
			return
		}
		defer func() { _ = file.Close() }()

		if err := s.chunks.WriteFragment(hash, index, file, wantMD5); err != nil {
			if errors.Is(err, errChecksumMismatch) {
				Warn("fragment checksum mismatch", map[string]any{"fileHash": hash, "chunkIndex": index})
				respondError(w, http.StatusBadRequest, codeIntegrityError, "chunk checksum mismatch, re-upload required")
				return
			}
			Error("fragment write failed", map[string]any{"fileHash": hash, "chunkIndex": index}, err)
			respondError(w, http.StatusInternalServerError, codeInternalError, "failed to store chunk")
			return
		}

		GetMetrics().RecordFragment()
		respondJSON(w, http.StatusOK, "chunk uploaded", map[string]any{
			"fileHash":   hash,
			"chunkIndex": index,
		})
	}))
}

// verifyChunksHandler handles GET /api/chunk/verify?fileHash=&chunkTotal=.
// Pure read: reports which indices exist and whether the set is complete.
func (s *Server) verifyChunksHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		hash := r.URL.Query().Get("fileHash")
		totalStr := r.URL.Query().Get("chunkTotal")
		if hash == "" || totalStr == "" {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "fileHash and chunkTotal are required")
			return
		}
		if !validFingerprint(hash) {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed fileHash")
			return
		}
		total, err := strconv.Atoi(totalStr)
		if err != nil || total <= 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed chunkTotal")
			return
		}

		indices, complete := s.chunks.Present(hash, total)
		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"fileHash":       hash,
			"uploadedChunks": indices,
			"isComplete":     complete,
		})
	})
}

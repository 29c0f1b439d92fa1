package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newChunkTestServer builds a Server with just enough wiring for the chunk
// endpoints; the database and object storage are only touched after a merge
// passes its preflight, which these tests never let happen.
func newChunkTestServer(t *testing.T) *Server {
	t.Helper()
	cs, err := newChunkStore(t.TempDir())
	require.NoError(t, err)
	return &Server{auth: testAuth, chunks: cs}
}

func authedRequest(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()
	tok, err := testAuth.IssueToken(authUser{ID: "u1", Username: "alice"})
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func multipartChunk(t *testing.T, fields map[string]string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", "blob")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadChunk(t *testing.T, s *Server, hash string, index, total int, data []byte, md5sum string) *httptest.ResponseRecorder {
	t.Helper()
	fields := map[string]string{
		"fileHash":   hash,
		"chunkIndex": fmt.Sprint(index),
		"chunkTotal": fmt.Sprint(total),
	}
	if md5sum != "" {
		fields["chunkMD5"] = md5sum
	}
	body, contentType := multipartChunk(t, fields, data)
	req := authedRequest(t, http.MethodPost, "/api/chunk/upload", body)
	req.Header.Set("Content-Type", contentType)

	rr := httptest.NewRecorder()
	s.uploadChunkHandler().ServeHTTP(rr, req)
	return rr
}

func TestUploadChunkHandler(t *testing.T) {
	s := newChunkTestServer(t)

	t.Run("requires auth", func(t *testing.T) {
		body, contentType := multipartChunk(t, map[string]string{"fileHash": "h"}, []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/chunk/upload", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		s.uploadChunkHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		body, contentType := multipartChunk(t, map[string]string{"fileHash": "h"}, []byte("x"))
		req := authedRequest(t, http.MethodPost, "/api/chunk/upload", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		s.uploadChunkHandler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, codeInvalidRequest, decodeEnvelope(t, rr).Code)
	})

	t.Run("malformed fingerprint", func(t *testing.T) {
		rr := uploadChunk(t, s, "../escape", 0, 1, []byte("x"), "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("index out of range", func(t *testing.T) {
		rr := uploadChunk(t, s, "abc", 3, 3, []byte("x"), "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		rr := uploadChunk(t, s, "abc", 0, 1, []byte("payload"), md5Hex([]byte("other")))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, codeIntegrityError, decodeEnvelope(t, rr).Code)
	})

	t.Run("accepted", func(t *testing.T) {
		data := []byte("payload")
		rr := uploadChunk(t, s, "abc", 0, 2, data, md5Hex(data))
		assert.Equal(t, http.StatusOK, rr.Code)

		indices, complete := s.chunks.Present("abc", 2)
		assert.Equal(t, []int{0}, indices)
		assert.False(t, complete)
	})
}

func TestVerifyChunksHandler(t *testing.T) {
	s := newChunkTestServer(t)
	uploadChunk(t, s, "abc", 1, 3, []byte("b"), "")
	uploadChunk(t, s, "abc", 0, 3, []byte("a"), "")

	t.Run("partial", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.verifyChunksHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chunk/verify?fileHash=abc&chunkTotal=3", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Data struct {
				UploadedChunks []int `json:"uploadedChunks"`
				IsComplete     bool  `json:"isComplete"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []int{0, 1}, resp.Data.UploadedChunks)
		assert.False(t, resp.Data.IsComplete)
	})

	t.Run("missing params", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.verifyChunksHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chunk/verify?fileHash=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("malformed total", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.verifyChunksHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/chunk/verify?fileHash=abc&chunkTotal=zero", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func mergeReqBody(t *testing.T, req mergeRequest) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestMergeChunksHandlerValidation(t *testing.T) {
	s := newChunkTestServer(t)

	cases := []struct {
		name string
		req  mergeRequest
	}{
		{"missing hash", mergeRequest{FileName: "a.png", ChunkTotal: 1}},
		{"missing name", mergeRequest{FileHash: "abc", ChunkTotal: 1}},
		{"zero total", mergeRequest{FileHash: "abc", FileName: "a.png"}},
		{"path traversal name", mergeRequest{FileHash: "abc", FileName: "../a.png", ChunkTotal: 1}},
		{"bad fingerprint", mergeRequest{FileHash: "a b", FileName: "a.png", ChunkTotal: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.mergeChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodPost, "/api/chunk/merge", mergeReqBody(t, tc.req)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, codeInvalidRequest, decodeEnvelope(t, rr).Code)
		})
	}
}

func TestMergeChunksHandlerIncomplete(t *testing.T) {
	s := newChunkTestServer(t)
	uploadChunk(t, s, "abc", 0, 3, []byte("a"), "")
	uploadChunk(t, s, "abc", 2, 3, []byte("c"), "")

	rr := httptest.NewRecorder()
	s.mergeChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodPost, "/api/chunk/merge",
		mergeReqBody(t, mergeRequest{FileHash: "abc", FileName: "a.png", ChunkTotal: 3})))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeEnvelope(t, rr)
	assert.Equal(t, codeIncompleteUpload, resp.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["missingIndex"])

	// Failed merges leave the fragments for a retry.
	indices, _ := s.chunks.Present("abc", 3)
	assert.Equal(t, []int{0, 2}, indices)
}

func TestMergeChunksHandlerChecksumMismatch(t *testing.T) {
	s := newChunkTestServer(t)
	uploadChunk(t, s, "abc", 0, 1, []byte("content"), "")

	rr := httptest.NewRecorder()
	s.mergeChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodPost, "/api/chunk/merge",
		mergeReqBody(t, mergeRequest{FileHash: "abc", FileName: "a.png", ChunkTotal: 1, FileMD5: md5Hex([]byte("different"))})))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, codeIntegrityError, decodeEnvelope(t, rr).Code)
}

func TestMergeChunksHandlerConcurrent(t *testing.T) {
	s := newChunkTestServer(t)
	require.NoError(t, s.chunks.tryLockMerge("abc"))
	defer s.chunks.unlockMerge("abc")

	rr := httptest.NewRecorder()
	s.mergeChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodPost, "/api/chunk/merge",
		mergeReqBody(t, mergeRequest{FileHash: "abc", FileName: "a.png", ChunkTotal: 1})))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, codeMergeInProgress, decodeEnvelope(t, rr).Code)
}

func TestCleanupChunksHandler(t *testing.T) {
	s := newChunkTestServer(t)

	t.Run("malformed expireHours", func(t *testing.T) {
		rr := httptest.NewRecorder()
		s.cleanupChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodDelete, "/api/chunk/cleanup?expireHours=-1", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("nothing expired", func(t *testing.T) {
		uploadChunk(t, s, "abc", 0, 1, []byte("x"), "")
		rr := httptest.NewRecorder()
		s.cleanupChunksHandler().ServeHTTP(rr, authedRequest(t, http.MethodDelete, "/api/chunk/cleanup", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		data, ok := decodeEnvelope(t, rr).Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(0), data["deletedCount"])
	})
}

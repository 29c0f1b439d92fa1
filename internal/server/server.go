package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Server bundles the HTTP server with the dependencies the handlers use.
type Server struct {
	httpServer *http.Server

	cfg    AppConfig
	db     *sql.DB
	store  *objectStore
	chunks *chunkStore
	auth   AuthConfig
	mailer *EmailService
	codes  *codeCache
	geo    *retryablehttp.Client
}

// New constructs the server, connects object storage, prepares the
// fragment staging directory, and registers all routes.
func New(cfg AppConfig, db *sql.DB, mailer *EmailService) (*Server, error) {
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	chunks, err := newChunkStore(cfg.ChunkDir)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		db:     db,
		store:  newObjectStore(mc, cfg.S3Bucket, cfg.PublicBaseURL),
		chunks: chunks,
		auth:   AuthConfig{Secret: []byte(cfg.JWTSecret), TTL: cfg.JWTTTL},
		mailer: mailer,
		codes:  newCodeCache(verificationCodeTTL),
		geo:    newGeoClient(),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, "ok", map[string]any{"status": "ok", "version": cfg.Version})
	})
	mux.Handle("GET /metrics", metricsHandler(cfg.Version))

	// Users
	mux.Handle("POST /api/user/register", s.registerHandler())
	mux.Handle("POST /api/user/login", s.loginHandler())
	mux.Handle("GET /api/user/info", s.userInfoHandler())
	mux.Handle("PUT /api/user/update", s.updateUserHandler())
	mux.Handle("PUT /api/user/password", s.changePasswordHandler())
	mux.Handle("GET /api/user/admin-status", s.adminStatusHandler())
	mux.Handle("POST /api/user/send-code", s.sendCodeHandler())
	mux.Handle("POST /api/user/verify-code", s.verifyCodeHandler())

	// Images
	mux.Handle("GET /api/image/list", s.listImagesHandler())
	mux.Handle("GET /api/image/detail/{imageId}", s.imageDetailHandler())
	mux.Handle("POST /api/image/upload", s.uploadImageHandler())
	mux.Handle("POST /api/image/batch-upload", s.batchUploadImagesHandler())
	mux.Handle("PUT /api/image/{imageId}", s.updateImageHandler())
	mux.Handle("DELETE /api/image/{imageId}", s.deleteImageHandler())
	mux.Handle("POST /api/image/batch-delete", s.batchDeleteImagesHandler())

	// Favorites
	mux.Handle("GET /api/favorite/list", s.listFavoritesHandler())
	mux.Handle("POST /api/favorite/add/{imageId}", s.addFavoriteHandler())
	mux.Handle("DELETE /api/favorite/remove/{imageId}", s.removeFavoriteHandler())
	mux.Handle("GET /api/favorite/status/{imageId}", s.favoriteStatusHandler())
	mux.Handle("POST /api/favorite/batch", s.batchAddFavoritesHandler())
	mux.Handle("DELETE /api/favorite/batch", s.batchRemoveFavoritesHandler())

	// Chunked uploads
	mux.Handle("POST /api/chunk/upload", s.uploadChunkHandler())
	mux.Handle("GET /api/chunk/verify", s.verifyChunksHandler())
	mux.Handle("POST /api/chunk/merge", s.mergeChunksHandler())
	mux.Handle("DELETE /api/chunk/cleanup", s.cleanupChunksHandler())

	// Statistics
	mux.Handle("GET /api/stats/system", s.systemInfoHandler())
	mux.Handle("GET /api/stats/uploads", s.uploadStatsHandler())
	mux.Handle("GET /api/stats/logins", s.loginRecordsHandler())

	// Wrap middleware: requestID -> logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the fully wired route tree, mainly for tests that mount
// the server inside httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// defaultAvatar is assigned to accounts registered without one.
const defaultAvatar = "/static/default-avatar.png"

type userRecord struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Nickname string `json:"nickname" validate:"max=32"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// registerHandler handles POST /api/user/register.
func (s *Server) registerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req registerReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.TrimSpace(req.Email)
		if err := validate.Struct(req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}

		var exists bool
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, req.Username).Scan(&exists); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		if exists {
			respondError(w, http.StatusConflict, codeConflict, "username already taken")
			return
		}
		if req.Email != "" {
			if err := s.db.QueryRowContext(r.Context(),
				`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, req.Email).Scan(&exists); err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
				return
			}
			if exists {
				respondError(w, http.StatusConflict, codeConflict, "email already in use")
				return
			}
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "registration failed")
			return
		}

		nickname := req.Nickname
		if nickname == "" {
			nickname = req.Username
		}
		var email any
		if req.Email != "" {
			email = req.Email
		}

		rec := userRecord{
			ID:        uuid.New().String(),
			Username:  req.Username,
			Nickname:  nickname,
			Email:     req.Email,
			Avatar:    defaultAvatar,
			CreatedAt: time.Now().UTC(),
		}
		_, err = s.db.ExecContext(r.Context(), `
			INSERT INTO users (id, username, password, nickname, email, avatar, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, rec.ID, rec.Username, string(hashed), rec.Nickname, email, rec.Avatar, rec.CreatedAt)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "registration failed")
			return
		}

		Info("user registered", map[string]any{"username": rec.Username})
		respondJSON(w, http.StatusCreated, "registered, please log in", map[string]any{"user": rec})
	})
}

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// loginHandler handles POST /api/user/login. Issues a JWT on success and
// records the attempt (success or failure) asynchronously.
func (s *Server) loginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "method not allowed")
			return
		}

		var req loginReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			s.recordLoginAsync(r, "", req.Username, "failure", "missing credentials")
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}

		var (
			rec    userRecord
			hashed string
			email  sql.NullString
		)
		err := s.db.QueryRowContext(r.Context(), `
			SELECT id, username, password, nickname, email, avatar, is_admin, created_at
			FROM users WHERE username = $1
		`, req.Username).Scan(&rec.ID, &rec.Username, &hashed, &rec.Nickname, &email, &rec.Avatar, &rec.IsAdmin, &rec.CreatedAt)
		if err != nil {
			GetMetrics().RecordLogin(false)
			s.recordLoginAsync(r, "", req.Username, "failure", "unknown user")
			// Same answer for unknown user and wrong password.
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid username or password")
			return
		}
		rec.Email = email.String

		if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(req.Password)) != nil {
			GetMetrics().RecordLogin(false)
			s.recordLoginAsync(r, rec.ID, rec.Username, "failure", "wrong password")
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "invalid username or password")
			return
		}

		token, err := s.auth.IssueToken(authUser{
			ID:       rec.ID,
			Username: rec.Username,
			Nickname: rec.Nickname,
			IsAdmin:  rec.IsAdmin,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "login failed")
			return
		}

		GetMetrics().RecordLogin(true)
		s.recordLoginAsync(r, rec.ID, rec.Username, "success", "")
		respondJSON(w, http.StatusOK, "login ok", map[string]any{
			"token": token,
			"user":  rec,
		})
	})
}

// userInfoHandler handles GET /api/user/info.
func (s *Server) userInfoHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())

		var rec userRecord
		var email sql.NullString
		err := s.db.QueryRowContext(r.Context(), `
			SELECT id, username, nickname, email, avatar, is_admin, created_at
			FROM users WHERE id = $1
		`, user.ID).Scan(&rec.ID, &rec.Username, &rec.Nickname, &email, &rec.Avatar, &rec.IsAdmin, &rec.CreatedAt)
		if err != nil {
			if err == sql.ErrNoRows {
				respondError(w, http.StatusNotFound, codeNotFound, "user not found")
				return
			}
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		rec.Email = email.String

		respondJSON(w, http.StatusOK, "query ok", rec)
	}))
}

type updateUserReq struct {
	Nickname *string `json:"nickname" validate:"omitempty,max=32"`
	Avatar   *string `json:"avatar" validate:"omitempty,max=512"`
}

// updateUserHandler handles PUT /api/user/update.
func (s *Server) updateUserHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req updateUserReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}
		if req.Nickname == nil && req.Avatar == nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "nothing to update")
			return
		}

		user := userFromContext(r.Context())
		if req.Nickname != nil {
			if _, err := s.db.ExecContext(r.Context(),
				`UPDATE users SET nickname = $2, updated_at = NOW() WHERE id = $1`,
				user.ID, strings.TrimSpace(*req.Nickname)); err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "update failed")
				return
			}
		}
		if req.Avatar != nil {
			if _, err := s.db.ExecContext(r.Context(),
				`UPDATE users SET avatar = $2, updated_at = NOW() WHERE id = $1`,
				user.ID, strings.TrimSpace(*req.Avatar)); err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "update failed")
				return
			}
		}

		respondJSON(w, http.StatusOK, "update ok", nil)
	}))
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

// changePasswordHandler handles PUT /api/user/password.
func (s *Server) changePasswordHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "bad request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, validationMessage(err))
			return
		}

		user := userFromContext(r.Context())

		var hashed string
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT password FROM users WHERE id = $1`, user.ID).Scan(&hashed); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hashed), []byte(req.OldPassword)) != nil {
			respondError(w, http.StatusUnauthorized, codeUnauthorized, "old password is incorrect")
			return
		}

		newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "password change failed")
			return
		}
		if _, err := s.db.ExecContext(r.Context(),
			`UPDATE users SET password = $2, updated_at = NOW() WHERE id = $1`,
			user.ID, string(newHash)); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "password change failed")
			return
		}

		Info("password changed", map[string]any{"username": user.Username})
		respondJSON(w, http.StatusOK, "password changed", nil)
	}))
}

// adminStatusHandler handles GET /api/user/admin-status.
func (s *Server) adminStatusHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		respondJSON(w, http.StatusOK, "query ok", map[string]any{"isAdmin": user.IsAdmin})
	}))
}

package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// favoriteEntry is one favorited image as returned by the list endpoint.
type favoriteEntry struct {
	FavoriteID  string       `json:"favoriteId"`
	FavoritedAt time.Time    `json:"favoritedAt"`
	Image       *imageRecord `json:"image"`
}

// addFavoriteHandler handles POST /api/favorite/add/{imageId}.
func (s *Server) addFavoriteHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		imageID := r.PathValue("imageId")
		if _, err := uuid.Parse(imageID); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		user := userFromContext(r.Context())

		var exists bool
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`, imageID).Scan(&exists); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		if !exists {
			respondError(w, http.StatusNotFound, codeNotFound, "image not found")
			return
		}

		// ON CONFLICT keeps a double-add idempotent.
		_, err := s.db.ExecContext(r.Context(), `
			INSERT INTO favorites (id, user_id, image_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, image_id) DO NOTHING
		`, uuid.New().String(), user.ID, imageID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "favorite failed")
			return
		}

		respondJSON(w, http.StatusOK, "favorited", map[string]any{"imageId": imageID})
	}))
}

// removeFavoriteHandler handles DELETE /api/favorite/remove/{imageId}.
func (s *Server) removeFavoriteHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		imageID := r.PathValue("imageId")
		if _, err := uuid.Parse(imageID); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		user := userFromContext(r.Context())
		res, err := s.db.ExecContext(r.Context(),
			`DELETE FROM favorites WHERE user_id = $1 AND image_id = $2`, user.ID, imageID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "unfavorite failed")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			respondError(w, http.StatusNotFound, codeNotFound, "not in favorites")
			return
		}

		respondJSON(w, http.StatusOK, "unfavorited", map[string]any{"imageId": imageID})
	}))
}

// favoriteStatusHandler handles GET /api/favorite/status/{imageId}.
func (s *Server) favoriteStatusHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		imageID := r.PathValue("imageId")
		if _, err := uuid.Parse(imageID); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed image id")
			return
		}

		user := userFromContext(r.Context())
		var favorited bool
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT EXISTS (SELECT 1 FROM favorites WHERE user_id = $1 AND image_id = $2)`,
			user.ID, imageID).Scan(&favorited); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"imageId":     imageID,
			"isFavorited": favorited,
		})
	}))
}

// listFavoritesHandler handles GET /api/favorite/list.
func (s *Server) listFavoritesHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		page, pageSize := pagination(r, 1, 20)

		var total int
		if err := s.db.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM favorites WHERE user_id = $1`, user.ID).Scan(&total); err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}

		rows, err := s.db.QueryContext(r.Context(), `
			SELECT f.id, f.created_at,
			       i.id, i.name, i.description, i.url, i.object_key, i.size_bytes, i.mime_type, i.user_id, i.created_at
			FROM favorites f
			JOIN images i ON i.id = f.image_id
			WHERE f.user_id = $1
			ORDER BY f.created_at DESC
			LIMIT $2 OFFSET $3
		`, user.ID, pageSize, (page-1)*pageSize)
		if err != nil {
			respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
			return
		}
		defer rows.Close()

		favorites := []favoriteEntry{}
		for rows.Next() {
			var entry favoriteEntry
			var img imageRecord
			var userID sql.NullString
			err := rows.Scan(&entry.FavoriteID, &entry.FavoritedAt,
				&img.ID, &img.Name, &img.Description, &img.URL, &img.ObjectKey,
				&img.Size, &img.MimeType, &userID, &img.CreatedAt)
			if err != nil {
				respondError(w, http.StatusInternalServerError, codeInternalError, "query failed")
				return
			}
			img.UserID = userID.String
			entry.Image = &img
			favorites = append(favorites, entry)
		}

		respondJSON(w, http.StatusOK, "query ok", map[string]any{
			"total":     total,
			"page":      page,
			"pageSize":  pageSize,
			"favorites": favorites,
		})
	}))
}

type batchFavoriteReq struct {
	ImageIDs []string `json:"imageIds"`
}

// batchAddFavoritesHandler handles POST /api/favorite/batch.
func (s *Server) batchAddFavoritesHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchFavoriteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ImageIDs) == 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "imageIds is required")
			return
		}

		user := userFromContext(r.Context())
		added := []string{}
		failed := []string{}

		for _, imageID := range req.ImageIDs {
			if _, err := uuid.Parse(imageID); err != nil {
				failed = append(failed, imageID)
				continue
			}
			res, err := s.db.ExecContext(r.Context(), `
				INSERT INTO favorites (id, user_id, image_id)
				SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM images WHERE id = $3)
				ON CONFLICT (user_id, image_id) DO NOTHING
			`, uuid.New().String(), user.ID, imageID)
			if err != nil {
				failed = append(failed, imageID)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				// Either the image is gone or it was already favorited;
				// both count as not-added.
				failed = append(failed, imageID)
				continue
			}
			added = append(added, imageID)
		}

		respondJSON(w, http.StatusOK, "batch favorite complete", map[string]any{
			"added":  added,
			"failed": failed,
		})
	}))
}

// batchRemoveFavoritesHandler handles DELETE /api/favorite/batch.
func (s *Server) batchRemoveFavoritesHandler() http.Handler {
	return s.auth.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchFavoriteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ImageIDs) == 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "imageIds is required")
			return
		}

		user := userFromContext(r.Context())
		removed := []string{}
		failed := []string{}

		for _, imageID := range req.ImageIDs {
			if _, err := uuid.Parse(imageID); err != nil {
				failed = append(failed, imageID)
				continue
			}
			res, err := s.db.ExecContext(r.Context(),
				`DELETE FROM favorites WHERE user_id = $1 AND image_id = $2`, user.ID, imageID)
			if err != nil {
				failed = append(failed, imageID)
				continue
			}
			if n, _ := res.RowsAffected(); n == 0 {
				failed = append(failed, imageID)
				continue
			}
			removed = append(removed, imageID)
		}

		respondJSON(w, http.StatusOK, "batch unfavorite complete", map[string]any{
			"removed": removed,
			"failed":  failed,
		})
	}))
}

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SceneID rejects requests whose {id} URL parameter is not a UUID.
func SceneID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := uuid.Parse(chi.URLParam(r, "id")); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid scene ID format")
			return
		}
		next.ServeHTTP(w, r)
	})
}

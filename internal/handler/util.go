package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dailogi/scene-client/internal/backend"
	"github.com/dailogi/scene-client/internal/scene"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeBackendError maps a failed backend call to a response. Auth and
// not-found answers pass through; anything else is a bad gateway.
func writeBackendError(w http.ResponseWriter, err error) {
	var se *backend.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			writeError(w, se.StatusCode, scene.ErrorMessage(err))
			return
		}
	}
	writeError(w, http.StatusBadGateway, scene.ErrorMessage(err))
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}

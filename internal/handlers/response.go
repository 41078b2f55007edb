package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/ternarybob/quaero/internal/errors"
)

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err to its §7 HTTP status and writes a small JSON body
// naming the error kind, the single place every handler funnels core
// errors through.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.StatusOf(err), errorResponse{
		Kind:    string(apperrors.KindOf(err)),
		Message: err.Error(),
	})
}

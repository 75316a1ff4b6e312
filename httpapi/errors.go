package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/claude-cli-gateway/contracts"
)

// WriteError renders err as the JSON error shape spec §7 calls for, reading
// the HTTP status straight off contracts.Error rather than re-deriving it
// with a second classification switch at the boundary.
func WriteError(w http.ResponseWriter, err error) {
	var ce *contracts.Error
	if !errors.As(err, &ce) {
		ce = contracts.NewInternalError(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ce.HTTPStatus)
	writeJSON(w, ErrorDTO{Code: ce.Code, Message: ce.Message})
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err
	}
}

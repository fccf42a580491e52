package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/thinkscotty/newsroom/internal/docstore"
)

const maxBodyBytes = 1 << 20

func jsonResponse(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonStatus(w, status, map[string]string{"error": message})
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// storeError answers a failed store call with a status that tells the
// client whether trying again later can help.
func storeError(w http.ResponseWriter, op string, err error) {
	var rl *docstore.RateLimitError
	switch {
	case errors.As(err, &rl):
		if wait := rl.RetryAfter(); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		}
		jsonError(w, "Document store rate limited", http.StatusServiceUnavailable)
	case errors.Is(err, docstore.ErrTransientIO), errors.Is(err, docstore.ErrPersistFailed):
		jsonError(w, "Document store unavailable", http.StatusServiceUnavailable)
	default:
		slog.Error("Store call failed", "op", op, "error", err)
		jsonError(w, "Internal error", http.StatusInternalServerError)
	}
}

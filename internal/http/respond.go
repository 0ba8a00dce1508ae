package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/example/ride-dispatch/internal/errs"
)

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ok writes {"success": true, ...fields}.
func ok(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	args := []any{"status", status, "error", err}
	if rid := requestIDFromContext(r.Context()); rid != "" {
		args = append(args, "request_id", rid)
	}
	if errs.Operational(err) {
		s.logger.Error("request failed", args...)
	} else {
		s.logger.Debug("request rejected", args...)
	}
	writeJSON(w, status, failure{Error: string(errs.KindOf(err)), Message: errs.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.Validation, err, "invalid JSON body")
	}
	return nil
}

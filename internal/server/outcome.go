package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// outcome is the result of a handler: the HTTP status and the JSON body.
// Status checks answer with poll so a failed job is still a 200 carrying its
// status in the body; only malformed input and unknown ids are rejected.
type outcome struct {
	status int
	body   any
}

func poll(body any) outcome     { return outcome{status: http.StatusOK, body: body} }
func created(body any) outcome  { return outcome{status: http.StatusCreated, body: body} }
func accepted(body any) outcome { return outcome{status: http.StatusAccepted, body: body} }

func rejected(status int, message, code string) outcome {
	return outcome{status: status, body: ErrorResponse{Error: message, Code: code}}
}

func (o outcome) write(w http.ResponseWriter) {
	writeJSON(w, o.status, o.body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	rejected(status, message, code).write(w)
}

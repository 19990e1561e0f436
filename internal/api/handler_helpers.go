package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"etl-orchestrator/internal/domain"
	"etl-orchestrator/internal/middleware"
)

const maxBodyBytes = 1 << 20

// listResponse is the paginated envelope of list endpoints.
type listResponse[T any] struct {
	Data          []T    `json:"data"`
	Total         int64  `json:"total"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes the error envelope.
// Internal errors are logged and their message is not exposed.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	reqID := middleware.RequestIDFromContext(r.Context())
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err, "request_id", reqID)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Code: status, Message: msg, RequestID: reqID})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery extracts a PageRequest from max_results/page_token params.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	p := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, nil
}

func optionalString(r *http.Request, name string) *string {
	if v := r.URL.Query().Get(name); v != "" {
		return &v
	}
	return nil
}

func optionalTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.ErrValidation("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func optionalBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, domain.ErrValidation("%s must be a boolean", name)
	}
	return &b, nil
}

func actor(r *http.Request) string {
	return middleware.ActorFromContext(r.Context(), "anonymous")
}

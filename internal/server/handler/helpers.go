package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/everest/internal/domain"
	"github.com/alanyoungcy/everest/internal/server/middleware"
)

const (
	maxBodyBytes = 1 << 20

	defaultPage = 50
	maxPage     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends {"error": msg}, plus the request id when one was
// assigned, so clients can quote it in bug reports.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	body := map[string]string{"error": msg}
	if id := middleware.RequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	writeJSON(w, status, body)
}

// errorStatus lists domain errors in match order. Anything else is a 500.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{domain.ErrOverAllocation, http.StatusUnprocessableEntity},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrInvalidOrder, http.StatusBadRequest},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrAlreadyExecuted, http.StatusConflict},
	{domain.ErrNotDue, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
	{domain.ErrAlreadyExists, http.StatusConflict},
}

func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err to the client. Client errors echo the error
// text; server errors are logged and replaced with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	status := statusFor(err)
	if status != http.StatusInternalServerError {
		writeError(w, r, status, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "handler: "+action+" failed",
		slog.String("request_id", middleware.RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, r, status, "failed to "+action)
}

// decodeJSON reads one JSON object, rejecting unknown fields and trailing
// data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data after JSON object")
	}
	return nil
}

// listOpts reads limit and offset. A limit above maxPage is clamped; a
// malformed or negative value is rejected.
func listOpts(r *http.Request) (domain.ListOpts, error) {
	limit, err := queryInt(r, "limit", defaultPage)
	if err != nil {
		return domain.ListOpts{}, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return domain.ListOpts{}, err
	}
	if limit == 0 {
		limit = defaultPage
	}
	return domain.ListOpts{Limit: min(limit, maxPage), Offset: offset}, nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s %q: %w", name, v, domain.ErrInvalidInput)
	}
	return n, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	return parseID(name, r.PathValue(name))
}

// queryID parses an optional positive id. A missing parameter yields zero.
func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return parseID(name, v)
}

func parseID(name, v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s %q: %w", name, v, domain.ErrInvalidInput)
	}
	return n, nil
}

// parseDate parses an optional YYYY-MM-DD date. An empty string yields the
// zero time, which the engine reads as "today".
func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", v, domain.ErrInvalidInput)
	}
	return t, nil
}

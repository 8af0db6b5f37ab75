package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/V4T54L/accesslog/internal/adapter/codec"
	"github.com/V4T54L/accesslog/internal/domain"
)

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

var errBadBound = errors.New("invalid time bound")

// parseTimeRange reads the optional from/until query parameters.
func parseTimeRange(r *http.Request) (domain.TimeRange, error) {
	var tr domain.TimeRange
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &tr.From}, {"until", &tr.Until}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := codec.ParseTimestamp(raw)
		if err != nil {
			return domain.TimeRange{}, errors.Join(errBadBound, err)
		}
		*p.dst = t
	}
	return tr, nil
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/access-control-core/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	errHistoryLimit    = errors.New("invalid limit")
	errHistoryLimitMax = errors.New("limit exceeds maximum")
)

// handleGetStatusHistory returns recorded status reports for one reader.
//
// Query parameters:
//   - limit: max entries (default 50, max 200)
//   - since: RFC3339 lower bound, inclusive
func (s *Server) handleGetStatusHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	q := device.HistoryQuery{DeviceID: deviceID}
	var err error
	if q.Limit, err = parseHistoryLimit(r.URL.Query().Get("limit")); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if q.Since, err = parseTimeParam(r.URL.Query().Get("since")); err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeUnavailable(w, "status history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), q)
	if err != nil {
		s.logger.Error("loading status history failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to load status history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   entries,
		"count":     len(entries),
	})
}

// parseHistoryLimit rejects a limit over the maximum rather than clamping,
// so a console asking for more than it can get finds out.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil || n <= 0:
		return 0, errHistoryLimit
	case n > maxHistoryLimit:
		return 0, errHistoryLimitMax
	}
	return n, nil
}

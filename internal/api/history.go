package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-tasmota/internal/device"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleGetDeviceHistory returns property change history for a device,
// optionally filtered to one property.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	property := r.URL.Query().Get("property")
	if len(property) > maxQueryParamLen {
		writeBadRequest(w, "invalid property")
		return
	}
	if property != "" {
		if _, found := dev.Property(property); !found {
			writeNotFound(w, "property not found")
			return
		}
	}

	if s.history == nil {
		writeUnavailable(w, "property history unavailable")
		return
	}

	var entries []device.HistoryEntry
	if property != "" {
		entries, err = s.history.GetPropertyHistory(ctx, dev.ID(), property, limit)
	} else {
		entries, err = s.history.GetHistory(ctx, dev.ID(), limit)
	}
	if err != nil {
		s.logger.Error("loading property history failed", "device_id", dev.ID(), "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}
	if entries == nil {
		entries = []device.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID(),
		"history":   entries,
		"count":     len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit, nil
	}
	return limit, nil
}

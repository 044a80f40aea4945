package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-tasmota/internal/bridges/tasmota"
)

// maxQueryParamLen bounds path and query parameters.
const maxQueryParamLen = 100

// propertyWriteTimeout bounds one device command issued from the API.
const propertyWriteTimeout = 10 * time.Second

// deviceResponse is a device description with its current values.
type deviceResponse struct {
	tasmota.DeviceDescription
	Values   map[string]any `json:"values"`
	Channels []int          `json:"channels,omitempty"`
	LastSeen *time.Time     `json:"last_seen,omitempty"`
}

// propertyResponse is one property and its cached value.
type propertyResponse struct {
	DeviceID    string              `json:"device_id"`
	Name        string              `json:"name"`
	Value       any                 `json:"value"`
	Known       bool                `json:"known"`
	Description tasmota.Description `json:"description"`
}

// setPropertyRequest is the body of a property write.
type setPropertyRequest struct {
	Value *json.RawMessage `json:"value"`
}

func newDeviceResponse(dev *tasmota.Device) deviceResponse {
	resp := deviceResponse{
		DeviceDescription: dev.Description(),
		Values:            dev.Values(),
		Channels:          dev.Channels(),
	}
	if seen := dev.LastSeen(); !seen.IsZero() {
		resp.LastSeen = &seen
	}
	return resp
}

// handleListDevices returns every managed device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	out := make([]deviceResponse, 0, len(devices))
	for _, dev := range devices {
		out = append(out, newDeviceResponse(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device description with its values.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(dev))
}

// handleGetProperty returns the cached value of one property.
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	prop, found := dev.Property(name)
	if !found {
		writeNotFound(w, "property not found")
		return
	}

	value, known := prop.Value()
	writeJSON(w, http.StatusOK, propertyResponse{
		DeviceID:    dev.ID(),
		Name:        prop.Name(),
		Value:       value,
		Known:       known,
		Description: prop.Description(),
	})
}

// handleSetProperty writes one property. The device reply is not awaited
// for success: delivery problems are logged by the bridge, so 202 means the
// value passed validation and the command was issued.
func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid property name")
		return
	}

	var req setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(*req.Value, &value); err != nil || value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), propertyWriteTimeout)
	defer cancel()

	if err := s.bridge.SetProperty(ctx, dev.ID(), name, value); err != nil {
		s.writePropertyError(w, err)
		return
	}

	commandID := uuid.NewString()
	s.logger.Info("property write accepted",
		"device_id", dev.ID(),
		"property", name,
		"command_id", commandID,
		"subject", r.Context().Value(ctxKeySubject),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"command_id": commandID,
		"device_id":  dev.ID(),
		"property":   name,
		"value":      value,
		"status":     "accepted",
	})
}

// lookupDevice resolves the {id} URL parameter, writing the error response
// when it fails.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*tasmota.Device, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return nil, false
	}
	dev, err := s.bridge.Device(id)
	if err != nil {
		if errors.Is(err, tasmota.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

func (s *Server) writePropertyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasmota.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, tasmota.ErrPropertyNotFound):
		writeNotFound(w, "property not found")
	case errors.Is(err, tasmota.ErrReadOnly):
		writeMethodNotAllowed(w, "property is read-only")
	case errors.Is(err, tasmota.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("property write failed", "error", err)
		writeInternalError(w, "failed to write property")
	}
}

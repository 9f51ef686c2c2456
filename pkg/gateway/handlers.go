package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/controller"
)

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Devices       int    `json:"devices"`
}

// DeviceInfo is the wire view of one registry entry.
type DeviceInfo struct {
	IEEE                    string         `json:"ieee"`
	NWK                     uint16         `json:"nwk"`
	Name                    string         `json:"name,omitempty"`
	Manufacturer            string         `json:"manufacturer,omitempty"`
	Model                   string         `json:"model,omitempty"`
	PendingRequestTimeoutMS int64          `json:"pending_request_timeout_ms"`
	DefaultSendWhen         string         `json:"default_send_when"`
	ImplicitCheckin         bool           `json:"implicit_checkin"`
	LastSeen                int64          `json:"last_seen,omitempty"`
	Endpoints               []EndpointInfo `json:"endpoints"`
}

// EndpointInfo is the wire view of one endpoint and its queue depth.
type EndpointInfo struct {
	ID             uint8    `json:"id"`
	InputClusters  []uint16 `json:"input_clusters,omitempty"`
	OutputClusters []uint16 `json:"output_clusters,omitempty"`
	Pending        int      `json:"pending"`
}

// PendingResponse reports one endpoint's queue depth.
type PendingResponse struct {
	IEEE     string `json:"ieee"`
	Endpoint uint8  `json:"endpoint"`
	Pending  int    `json:"pending"`
}

// FlushRequest is the optional POST body of a flush trigger.
type FlushRequest struct {
	FastPolling bool `json:"fast_polling"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Devices:       len(s.ctrl.Devices()),
	})
}

// handleDevices handles GET /api/devices.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.ctrl.Devices()
	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, deviceInfo(d))
	}
	respondJSON(w, http.StatusOK, infos)
}

// handleDevice handles GET /api/devices/{ieee}.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, deviceInfo(d))
}

// handlePending handles GET /api/devices/{ieee}/endpoints/{endpoint}/pending.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	d, ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, PendingResponse{
		IEEE:     formatIEEE(d.IEEE),
		Endpoint: ep.ID,
		Pending:  ep.PendingCount(),
	})
}

// handleFlush handles POST /api/devices/{ieee}/endpoints/{endpoint}/flush.
// It drains the endpoint synchronously and reports what is still queued
// (fast-poll or bulk requests held back unless the body asks for them).
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	d, ep, ok := s.endpoint(w, r)
	if !ok {
		return
	}

	var req FlushRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	ep.Flush(r.Context(), req.FastPolling)

	respondJSON(w, http.StatusOK, PendingResponse{
		IEEE:     formatIEEE(d.IEEE),
		Endpoint: ep.ID,
		Pending:  ep.PendingCount(),
	})
}

// device resolves the {ieee} URL parameter, writing the error response
// itself when the lookup fails.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (*controller.Device, bool) {
	ieee, err := parseIEEE(chi.URLParam(r, "ieee"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ieee address")
		return nil, false
	}
	d, ok := s.ctrl.Device(ieee)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	return d, true
}

// endpoint resolves {ieee} and {endpoint}. Existing endpoints only:
// Device.Endpoint would create one, which a GET must not do.
func (s *Server) endpoint(w http.ResponseWriter, r *http.Request) (*controller.Device, *controller.Endpoint, bool) {
	d, ok := s.device(w, r)
	if !ok {
		return nil, nil, false
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "endpoint"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint id")
		return nil, nil, false
	}
	for _, ep := range d.Endpoints() {
		if ep.ID == uint8(id) {
			return d, ep, true
		}
	}
	writeError(w, http.StatusNotFound, "endpoint not found")
	return nil, nil, false
}

func deviceInfo(d *controller.Device) DeviceInfo {
	endpoints := d.Endpoints()
	info := DeviceInfo{
		IEEE:                    formatIEEE(d.IEEE),
		NWK:                     d.NWK(),
		Name:                    d.Name(),
		Manufacturer:            d.Manufacturer(),
		Model:                   d.Model(),
		PendingRequestTimeoutMS: d.PendingRequestTimeout().Milliseconds(),
		DefaultSendWhen:         d.DefaultSendWhen().String(),
		ImplicitCheckin:         d.ImplicitCheckinEnabled(),
		Endpoints:               make([]EndpointInfo, 0, len(endpoints)),
	}
	if last := d.LastSeen(); !last.IsZero() {
		info.LastSeen = last.UnixMilli()
	}
	for _, ep := range endpoints {
		info.Endpoints = append(info.Endpoints, EndpointInfo{
			ID:             ep.ID,
			InputClusters:  ep.InputClusters(),
			OutputClusters: ep.OutputClusters(),
			Pending:        ep.PendingCount(),
		})
	}
	return info
}

func formatIEEE(ieee uint64) string {
	return fmt.Sprintf("0x%016x", ieee)
}

func parseIEEE(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
}

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in Error.Code.
const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeNotFound      = "not_found"
	ErrCodeInternal      = "internal_error"
	ErrCodeUnavailable   = "service_unavailable"
	ErrCodePublishFailed = "publish_failed"
)

// rejections lists the domain errors that mean the caller sent something
// unusable. Anything else from the bus surfaces as 502.
var rejections = []error{
	device.ErrDeviceIDRequired,
	device.ErrInvalidCommand,
	mqtt.ErrInvalidTopic,
	mqtt.ErrInvalidQoS,
	mqtt.ErrPayloadTooLarge,
}

// writeBusError answers a failed command or publish. The error text is
// passed through because it names the rejected field or the bus condition.
func writeBusError(w http.ResponseWriter, err error) {
	for _, target := range rejections {
		if errors.Is(err, target) {
			writeBadRequest(w, err.Error())
			return
		}
	}
	writeError(w, http.StatusBadGateway, ErrCodePublishFailed, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnavailable answers 503 for an optional collaborator that is not
// configured or not reachable.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

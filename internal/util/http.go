package util

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"accessportal/internal/apperr"
)

// APIError is the body of every JSON error response.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, msg, reqID string) {
	WriteJSON(w, status, APIError{Error: msg, Code: code, RequestID: reqID})
}

// WriteAppError renders err through the apperr taxonomy. Anything that is not
// an *apperr.Error is treated as internal: the cause is logged and the client
// sees only the generic message.
func WriteAppError(w http.ResponseWriter, log logrus.FieldLogger, reqID string, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := apperr.HTTPStatus(e.Kind)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": reqID,
			"code":       e.Code,
		}).Error("request failed")
	}
	WriteError(w, status, e.Code, e.Message, reqID)
}

// DecodeJSON reads a JSON body into dst, capped at 1 MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "bad_json", "invalid JSON body")
	}
	return nil
}

package realtime

import (
	"net/http"

	"clinicmsg/apperr"
	"clinicmsg/logger"
)

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack answers an inbound event that asked for acknowledgement.
type Ack struct {
	ID    string    `json:"id,omitempty"`
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *AckError `json:"error,omitempty"`
}

func NewAck(id string, data any, err error) Ack {
	if err == nil {
		return Ack{ID: id, OK: true, Data: data}
	}

	appErr := apperr.As(err)
	message := appErr.Message
	if appErr.Status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("ackId", id).Msg("real-time event failed")
		message = "internal server error"
	}
	return Ack{ID: id, OK: false, Error: &AckError{Code: appErr.Code, Message: message}}
}

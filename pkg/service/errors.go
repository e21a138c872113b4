package service

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/model"
)

// some basic mapping of errors from model to HTTP
func handleError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, model.GeneralErrorCode
	switch {
	case errors.Is(err, model.ErrFlagNotFound):
		status, code = http.StatusNotFound, model.FlagNotFoundErrorCode
	case errors.Is(err, model.ErrTypeMismatch):
		status, code = http.StatusBadRequest, model.TypeMismatchErrorCode
	case errors.Is(err, model.ErrParse):
		status, code = http.StatusBadRequest, model.ParseErrorCode
	case errors.Is(err, model.ErrProviderNotReady):
		status, code = http.StatusServiceUnavailable, model.ProviderNotReadyErrorCode
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
	} else {
		log.WithError(err).Debug("request rejected")
	}
	writeJSON(w, status, model.ErrorResponse{ErrorCode: code, Message: err.Error()})
}

func paramErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		ErrorCode: model.ParseErrorCode,
		Message:   err.Error(),
	})
}

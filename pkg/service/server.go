package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/model"
	"github.com/open-feature/flagwatch/pkg/provider"
	"github.com/open-feature/flagwatch/pkg/telemetry"
	"github.com/open-feature/flagwatch/pkg/variation"
)

const maxRequestBody = 1 << 20

// Server implements ServerInterface on top of a provider.
type Server struct {
	provider provider.IProvider
	watch    *WatchHandler
	metrics  *telemetry.Metrics
}

func NewServer(p provider.IProvider, watch *WatchHandler, metrics *telemetry.Metrics) *Server {
	return &Server{provider: p, watch: watch, metrics: metrics}
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) Reauthenticate(w http.ResponseWriter, _ *http.Request) {
	if err := s.provider.Reauthenticate(); err != nil {
		log.WithError(err).Error("forced re-authentication failed")
		writeJSON(w, http.StatusBadGateway, model.ErrorResponse{
			ErrorCode: model.GeneralErrorCode,
			Message:   err.Error(),
		})
		return
	}
	log.Info("Re-authenticated provider")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) GetFlag(w http.ResponseWriter, _ *http.Request, flagID string, targetID string) {
	s.evaluate(w, flagID, targetID, nil)
}

func (s *Server) PostFlag(w http.ResponseWriter, r *http.Request, flagID string, targetID string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, model.ErrorResponse{
				ErrorCode: model.ParseErrorCode,
				Message:   fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		handleError(w, fmt.Errorf("%w: %s", model.ErrParse, err))
		return
	}

	var req *model.FlagRequest
	if len(bytes.TrimSpace(body)) > 0 && string(bytes.TrimSpace(body)) != "null" {
		if req, err = model.ParseFlagRequest(body); err != nil {
			handleError(w, err)
			return
		}
	}
	s.evaluate(w, flagID, targetID, req)
}

func (s *Server) WatchFlag(w http.ResponseWriter, r *http.Request, flagID string, targetID string) {
	s.watch.Watch(w, r, flagID, targetID)
}

func (s *Server) evaluate(w http.ResponseWriter, flagID string, targetID string, req *model.FlagRequest) {
	target := variation.ResolveTarget(targetID, req)
	v := variation.Resolve(req)

	value, err := v.Bind(s.provider)(flagID, target)
	s.metrics.Evaluated(string(v.Type), err)
	if err != nil {
		handleError(w, err)
		return
	}

	fields := log.Fields{
		"flag_id":    flagID,
		"flag_value": value,
		"target_id":  targetID,
	}
	if req != nil {
		fields["target_attributes"] = target.Attributes
	}
	log.WithFields(fields).Info("Evaluated feature flag")

	writeJSON(w, http.StatusOK, model.FlagValueResponse{
		FlagID:    flagID,
		FlagValue: value,
		TargetID:  targetID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("unable to write response")
	}
}

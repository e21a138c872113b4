package service

import (
	"fmt"
	"net/http"

	"github.com/deepmap/oapi-codegen/pkg/runtime"
	"github.com/go-chi/chi/v5"
)

// ServerInterface is implemented by the flag endpoints. Path parameters
// arrive already bound and unescaped.
type ServerInterface interface {
	// (GET /health)
	Health(w http.ResponseWriter, r *http.Request)
	// (POST /reauthenticate)
	Reauthenticate(w http.ResponseWriter, r *http.Request)
	// (GET /{flagId}/{targetId})
	GetFlag(w http.ResponseWriter, r *http.Request, flagID string, targetID string)
	// (POST /{flagId}/{targetId})
	PostFlag(w http.ResponseWriter, r *http.Request, flagID string, targetID string)
	// (GET /{flagId}/{targetId}/watch)
	WatchFlag(w http.ResponseWriter, r *http.Request, flagID string, targetID string)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// ServerInterfaceWrapper binds chi path parameters for a ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) Health(w http.ResponseWriter, r *http.Request) {
	siw.Handler.Health(w, r)
}

func (siw *ServerInterfaceWrapper) Reauthenticate(w http.ResponseWriter, r *http.Request) {
	siw.Handler.Reauthenticate(w, r)
}

func (siw *ServerInterfaceWrapper) GetFlag(w http.ResponseWriter, r *http.Request) {
	flagID, targetID, ok := siw.bindFlagTarget(w, r)
	if !ok {
		return
	}
	siw.Handler.GetFlag(w, r, flagID, targetID)
}

func (siw *ServerInterfaceWrapper) PostFlag(w http.ResponseWriter, r *http.Request) {
	flagID, targetID, ok := siw.bindFlagTarget(w, r)
	if !ok {
		return
	}
	siw.Handler.PostFlag(w, r, flagID, targetID)
}

func (siw *ServerInterfaceWrapper) WatchFlag(w http.ResponseWriter, r *http.Request) {
	flagID, targetID, ok := siw.bindFlagTarget(w, r)
	if !ok {
		return
	}
	siw.Handler.WatchFlag(w, r, flagID, targetID)
}

func (siw *ServerInterfaceWrapper) bindFlagTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var flagID, targetID string

	err := runtime.BindStyledParameterWithLocation("simple", false, "flagId", runtime.ParamLocationPath, chi.URLParam(r, "flagId"), &flagID)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "flagId", Err: err})
		return "", "", false
	}

	err = runtime.BindStyledParameterWithLocation("simple", false, "targetId", runtime.ParamLocationPath, chi.URLParam(r, "targetId"), &targetID)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "targetId", Err: err})
		return "", "", false
	}

	return flagID, targetID, true
}

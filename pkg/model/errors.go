package model

import "errors"

const (
	FlagNotFoundErrorCode     = "FLAG_NOT_FOUND"
	TypeMismatchErrorCode     = "TYPE_MISMATCH"
	ParseErrorCode            = "PARSE_ERROR"
	FlagDisabledErrorCode     = "FLAG_DISABLED"
	ProviderNotReadyErrorCode = "PROVIDER_NOT_READY"
	GeneralErrorCode          = "GENERAL"
)

var (
	ErrFlagNotFound     = errors.New(FlagNotFoundErrorCode)
	ErrTypeMismatch     = errors.New(TypeMismatchErrorCode)
	ErrParse            = errors.New(ParseErrorCode)
	ErrFlagDisabled     = errors.New(FlagDisabledErrorCode)
	ErrProviderNotReady = errors.New(ProviderNotReadyErrorCode)
	ErrGeneral          = errors.New(GeneralErrorCode)
)

// IsResolutionError reports whether err describes a flag that cannot produce
// a value for the request, as opposed to a provider that cannot answer at all.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrFlagNotFound) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrFlagDisabled) ||
		errors.Is(err, ErrParse)
}

package provider

import "github.com/open-feature/flagwatch/pkg/model"

// IProvider is the evaluation provider shared by every request and watch
// session. Implementations must be safe for concurrent use.
type IProvider interface {
	Initialize() error
	ResolveBooleanValue(flagKey string, defaultValue bool, target model.Target) (bool, error)
	ResolveStringValue(flagKey string, defaultValue string, target model.Target) (string, error)
	ResolveNumberValue(flagKey string, defaultValue float64, target model.Target) (float64, error)
	Reauthenticate() error
	Close() error
}

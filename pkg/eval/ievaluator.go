package eval

import "github.com/open-feature/flagwatch/pkg/model"

// IEvaluator resolves flag values from the definitions it has been given.
type IEvaluator interface {
	GetState() (string, error)
	SetState(source string, payload string) (map[string]interface{}, error)

	ResolveBooleanValue(flagKey string, defaultValue bool, target model.Target) (value bool, reason string, err error)
	ResolveStringValue(flagKey string, defaultValue string, target model.Target) (value string, reason string, err error)
	ResolveNumberValue(flagKey string, defaultValue float64, target model.Target) (value float64, reason string, err error)
}

package variation

import (
	"github.com/open-feature/flagwatch/pkg/model"
	"github.com/open-feature/flagwatch/pkg/provider"
)

// Evaluation resolves one flag for one target. Values are string, bool or
// float64 and compare with ==.
type Evaluation func(flagID string, target model.Target) (interface{}, error)

// Variation is the typed evaluation operation selected for a request.
type Variation struct {
	Type    model.ValueType
	Default interface{}
}

var (
	StringVariation  = Variation{Type: model.StringType, Default: ""}
	BooleanVariation = Variation{Type: model.BooleanType, Default: false}
	NumberVariation  = Variation{Type: model.NumberType, Default: float64(0)}
)

// Resolve selects the variation for req. Absent requests and unknown types
// get the string variation.
func Resolve(req *model.FlagRequest) Variation {
	switch req.ValueType() {
	case model.BooleanType:
		return BooleanVariation
	case model.NumberType:
		return NumberVariation
	default:
		return StringVariation
	}
}

// Bind closes the variation over p. Flags that cannot be resolved for the
// target yield the variation default; any other provider error is returned.
func (v Variation) Bind(p provider.IProvider) Evaluation {
	switch v.Type {
	case model.BooleanType:
		def := v.Default.(bool)
		return func(flagID string, target model.Target) (interface{}, error) {
			value, err := p.ResolveBooleanValue(flagID, def, target)
			if err != nil {
				return def, fault(err)
			}
			return value, nil
		}
	case model.NumberType:
		def := v.Default.(float64)
		return func(flagID string, target model.Target) (interface{}, error) {
			value, err := p.ResolveNumberValue(flagID, def, target)
			if err != nil {
				return def, fault(err)
			}
			return value, nil
		}
	default:
		def := v.Default.(string)
		return func(flagID string, target model.Target) (interface{}, error) {
			value, err := p.ResolveStringValue(flagID, def, target)
			if err != nil {
				return def, fault(err)
			}
			return value, nil
		}
	}
}

func fault(err error) error {
	if model.IsResolutionError(err) {
		return nil
	}
	return err
}

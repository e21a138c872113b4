package variation

import "github.com/open-feature/flagwatch/pkg/model"

// ResolveTarget builds the identity targetID is evaluated as. The display
// name falls back to the identifier and attributes are never nil.
func ResolveTarget(targetID string, req *model.FlagRequest) model.Target {
	if req == nil {
		return model.Target{
			Identifier: targetID,
			Name:       targetID,
			Attributes: map[string]interface{}{},
		}
	}
	name := req.Name
	if name == "" {
		name = targetID
	}
	return model.Target{
		Identifier: targetID,
		Name:       name,
		Attributes: req.Attributes(),
	}
}

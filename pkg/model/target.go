package model

// Target is the subject a flag is evaluated for.
type Target struct {
	Identifier string
	Name       string
	Attributes map[string]interface{}
}

// EvaluationContext flattens the target into the data object targeting rules
// are applied to. Attributes never override the identifier or name keys.
func (t Target) EvaluationContext() map[string]interface{} {
	ctx := make(map[string]interface{}, len(t.Attributes)+2)
	for k, v := range t.Attributes {
		ctx[k] = v
	}
	ctx["targetingKey"] = t.Identifier
	ctx["name"] = t.Name
	return ctx
}

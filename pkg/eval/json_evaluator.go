package eval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/diegoholiveira/jsonlogic/v3"
	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/open-feature/flagwatch/pkg/model"
	"github.com/open-feature/flagwatch/pkg/store"
)

var definitionsSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(flagDefinitionsSchema))
	if err != nil {
		panic(err)
	}
	definitionsSchema = schema
}

type JsonEvaluator struct {
	state *store.State
	ready atomic.Bool
}

func NewJsonEvaluator(state *store.State) *JsonEvaluator {
	return &JsonEvaluator{state: state}
}

func (je *JsonEvaluator) GetState() (string, error) {
	return je.state.String()
}

// SetState validates payload and replaces the flags owned by source.
// The previous definitions stay in place when payload is rejected.
func (je *JsonEvaluator) SetState(source string, payload string) (map[string]interface{}, error) {
	result, err := definitionsSchema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("unable to validate flag definitions: %w", err)
	} else if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid flag definitions: %s", strings.Join(msgs, "; "))
	}

	var flags model.Flags
	if err := json.Unmarshal([]byte(payload), &flags); err != nil {
		return nil, fmt.Errorf("unable to unmarshal flag definitions: %w", err)
	}
	for key, flag := range flags.Flags {
		if _, ok := flag.Variants[flag.DefaultVariant]; !ok {
			return nil, fmt.Errorf("flag %s: default variant %q is not a declared variant", key, flag.DefaultVariant)
		}
		if len(flag.Targeting) > 0 && !jsonlogic.IsValid(bytes.NewReader(flag.Targeting)) {
			return nil, fmt.Errorf("flag %s: invalid targeting rule", key)
		}
	}

	notifications, err := je.state.Update(source, flags.Flags)
	if err != nil {
		return nil, err
	}
	je.ready.Store(true)
	return notifications, nil
}

func (je *JsonEvaluator) ResolveBooleanValue(flagKey string, defaultValue bool, target model.Target) (bool, string, error) {
	raw, reason, err := je.evaluateVariant(flagKey, target)
	if err != nil {
		return defaultValue, reason, err
	}
	value, ok := raw.(bool)
	if !ok {
		return defaultValue, model.ErrorReason, model.ErrTypeMismatch
	}
	return value, reason, nil
}

func (je *JsonEvaluator) ResolveStringValue(flagKey string, defaultValue string, target model.Target) (string, string, error) {
	raw, reason, err := je.evaluateVariant(flagKey, target)
	if err != nil {
		return defaultValue, reason, err
	}
	value, ok := raw.(string)
	if !ok {
		return defaultValue, model.ErrorReason, model.ErrTypeMismatch
	}
	return value, reason, nil
}

func (je *JsonEvaluator) ResolveNumberValue(flagKey string, defaultValue float64, target model.Target) (float64, string, error) {
	raw, reason, err := je.evaluateVariant(flagKey, target)
	if err != nil {
		return defaultValue, reason, err
	}
	switch value := raw.(type) {
	case float64:
		return value, reason, nil
	default:
		return defaultValue, model.ErrorReason, model.ErrTypeMismatch
	}
}

// evaluateVariant returns the raw value of the variant selected for target.
// A targeting rule that yields null falls through to the default variant.
func (je *JsonEvaluator) evaluateVariant(flagKey string, target model.Target) (interface{}, string, error) {
	if !je.ready.Load() {
		return nil, model.ErrorReason, model.ErrProviderNotReady
	}
	flag, ok := je.state.Get(flagKey)
	if !ok {
		return nil, model.ErrorReason, model.ErrFlagNotFound
	}
	if flag.State == model.FlagDisabled {
		return nil, model.DisabledReason, model.ErrFlagDisabled
	}

	if len(flag.Targeting) > 0 && string(flag.Targeting) != "{}" {
		variant, err := je.applyTargeting(flag, target)
		if err != nil {
			log.WithField("flag_id", flagKey).Errorf("error applying targeting rule: %v", err)
			return nil, model.ErrorReason, err
		}
		if variant != "" {
			return flag.Variants[variant], model.TargetingMatchReason, nil
		}
	}

	return flag.Variants[flag.DefaultVariant], model.StaticReason, nil
}

func (je *JsonEvaluator) applyTargeting(flag model.Flag, target model.Target) (string, error) {
	data, err := json.Marshal(target.EvaluationContext())
	if err != nil {
		return "", fmt.Errorf("%w: unable to marshal target: %s", model.ErrParse, err)
	}

	var result bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(flag.Targeting), bytes.NewReader(data), &result); err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrParse, err)
	}

	var resolved interface{}
	if err := json.Unmarshal(result.Bytes(), &resolved); err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrParse, err)
	}
	if resolved == nil {
		return "", nil
	}
	variant, ok := resolved.(string)
	if !ok {
		return "", fmt.Errorf("%w: targeting returned %v", model.ErrParse, resolved)
	}
	if _, ok := flag.Variants[variant]; !ok {
		return "", fmt.Errorf("%w: targeting returned unknown variant %q", model.ErrParse, variant)
	}
	return variant, nil
}


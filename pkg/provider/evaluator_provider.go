package provider

import (
	log "github.com/sirupsen/logrus"

	"github.com/open-feature/flagwatch/pkg/eval"
	"github.com/open-feature/flagwatch/pkg/model"
)

// evaluatorProvider resolves values against locally held flag definitions.
type evaluatorProvider struct {
	evaluator eval.IEvaluator
}

// setState replaces the definitions held for source and returns the
// resulting change notifications.
func (p evaluatorProvider) setState(source string, payload string) (map[string]interface{}, error) {
	notifications, err := p.evaluator.SetState(source, payload)
	if err != nil {
		return nil, err
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		if state, err := p.evaluator.GetState(); err == nil {
			log.WithField("source", source).Tracef("flag state: %s", state)
		}
	}
	return notifications, nil
}

func (p evaluatorProvider) ResolveBooleanValue(flagKey string, defaultValue bool, target model.Target) (bool, error) {
	value, reason, err := p.evaluator.ResolveBooleanValue(flagKey, defaultValue, target)
	logResolution(flagKey, target, reason, err)
	return value, err
}

func (p evaluatorProvider) ResolveStringValue(flagKey string, defaultValue string, target model.Target) (string, error) {
	value, reason, err := p.evaluator.ResolveStringValue(flagKey, defaultValue, target)
	logResolution(flagKey, target, reason, err)
	return value, err
}

func (p evaluatorProvider) ResolveNumberValue(flagKey string, defaultValue float64, target model.Target) (float64, error) {
	value, reason, err := p.evaluator.ResolveNumberValue(flagKey, defaultValue, target)
	logResolution(flagKey, target, reason, err)
	return value, err
}

func logResolution(flagKey string, target model.Target, reason string, err error) {
	entry := log.WithFields(log.Fields{
		"flag_id":   flagKey,
		"target_id": target.Identifier,
		"reason":    reason,
	})
	if err != nil {
		entry.WithError(err).Debug("flag resolved to default")
		return
	}
	entry.Debug("flag resolved")
}

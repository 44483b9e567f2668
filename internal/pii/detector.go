package pii

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/covertlabs/pii-vault/internal/config"
)

// Detector locates structurally-typed PII using the built-in pattern rules.
// Detection is a pure function of the input text; a Detector is safe for
// concurrent use once constructed.
type Detector struct {
	rules   []PatternRule
	enabled map[EntityType]bool
	logger  *zap.Logger
}

// NewDetector creates a pattern detector with the rule set configured in
// cfg. An empty detector list (or "all") enables every rule.
func NewDetector(cfg config.DetectionConfig, logger *zap.Logger) (*Detector, error) {
	d := &Detector{
		rules:   DefaultRules(),
		enabled: make(map[EntityType]bool),
		logger:  logger,
	}

	if err := d.configureRules(cfg.Patterns); err != nil {
		return nil, fmt.Errorf("failed to configure pattern rules: %w", err)
	}

	logger.Info("Pattern detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabled()),
	)

	return d, nil
}

func (d *Detector) configureRules(patterns []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Type] = false
	}

	if len(patterns) == 0 {
		patterns = []string{"all"}
	}

	for _, name := range patterns {
		if name == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Type] = true
			}
			continue
		}

		found := false
		for _, rule := range d.rules {
			if string(rule.Type) == name {
				d.enabled[rule.Type] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown pattern rule: %s", name)
		}
	}

	return nil
}

// Detect runs every enabled pattern rule over text and returns one entity
// per match with confidence 1.0. Matches from different rules may overlap;
// an empty result is a valid outcome.
func (d *Detector) Detect(text string) []Entity {
	entities := make([]Entity, 0)

	for _, rule := range d.rules {
		if !d.enabled[rule.Type] {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Text:       text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Type:       rule.Type,
				Method:     MethodPattern,
				Confidence: 1.0,
			})
		}
	}

	if len(entities) > 0 {
		d.logger.Debug("Pattern detection completed",
			zap.Int("matches", len(entities)),
		)
	}

	return entities
}

// EnabledRules returns the names of currently enabled rules.
func (d *Detector) EnabledRules() []string {
	var names []string
	for t, on := range d.enabled {
		if on {
			names = append(names, string(t))
		}
	}
	return names
}

func (d *Detector) countEnabled() int {
	count := 0
	for _, on := range d.enabled {
		if on {
			count++
		}
	}
	return count
}

package moderation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the loaded decision configuration: thresholds plus vocabulary.
// It is built once at startup and shared read-only.
type Rules struct {
	Thresholds Thresholds
	Vocabulary Vocabulary
}

// rulesFile mirrors the YAML layout of the rules file.
type rulesFile struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Vocabulary struct {
		Replace         bool `yaml:"replace"`
		VocabularyLists `yaml:",inline"`
	} `yaml:"vocabulary"`
}

// DefaultRules returns the built-in thresholds and vocabulary.
func DefaultRules() Rules {
	return Rules{
		Thresholds: DefaultThresholds(),
		Vocabulary: DefaultVocabulary(),
	}
}

// LoadRules reads a YAML rules file. An empty path or a missing file yields
// the defaults. Thresholds left out of the file keep their defaults; vocabulary
// lists extend the built-in ones unless `vocabulary.replace` is set.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRules(), nil
		}
		return Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules builds Rules from YAML content.
func ParseRules(data []byte) (Rules, error) {
	var raw rulesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Rules{}, fmt.Errorf("unmarshal rules: %w", err)
	}

	lists := raw.Vocabulary.VocabularyLists
	if !raw.Vocabulary.Replace {
		lists = mergeLists(DefaultVocabularyLists(), lists)
	}

	rules := Rules{
		Thresholds: raw.Thresholds.withDefaults(),
		Vocabulary: NewVocabulary(lists),
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks that scores sit in [0,1].
func (r Rules) Validate() error {
	t := r.Thresholds
	scores := map[string]float64{
		"adult":            t.Adult,
		"violence":         t.Violence,
		"racy":             t.Racy,
		"face":             t.Face,
		"human_object":     t.HumanObject,
		"human_label":      t.HumanLabel,
		"animal_object":    t.AnimalObject,
		"animal_label":     t.AnimalLabel,
		"property_context": t.PropertyContext,
	}
	for name, value := range scores {
		if value < 0 || value > 1 {
			return fmt.Errorf("threshold %s out of range: %v", name, value)
		}
	}
	return nil
}

package moderation

import (
	"sort"
	"strings"
	"unicode"
)

// VocabularyLists is the editable form of a vocabulary, as found in the rules
// file.
type VocabularyLists struct {
	HumanLabels     []string `yaml:"human_labels" json:"human_labels"`
	HumanObjects    []string `yaml:"human_objects" json:"human_objects"`
	Animals         []string `yaml:"animals" json:"animals"`
	PropertyLabels  []string `yaml:"property_labels" json:"property_labels"`
	PropertyObjects []string `yaml:"property_objects" json:"property_objects"`
}

// Vocabulary is an immutable set of term lists used for matching detections.
// Build one with NewVocabulary; the zero value matches nothing.
type Vocabulary struct {
	humanLabels     []string
	humanObjects    map[string]struct{}
	animals         []string
	propertyLabels  []string
	propertyObjects []string
}

// DefaultVocabularyLists returns the built-in term lists.
func DefaultVocabularyLists() VocabularyLists {
	return VocabularyLists{
		HumanLabels: []string{
			"person", "people", "human", "man", "woman", "child", "boy", "girl",
			"baby", "toddler", "face", "selfie", "portrait", "crowd", "family",
			"smile", "facial expression", "hairstyle", "beard", "gesture",
			"fashion model", "skin", "eyebrow", "forehead",
		},
		HumanObjects: []string{"person", "people", "human"},
		Animals: []string{
			"animal", "mammal", "dog", "puppy", "canidae", "cat", "kitten",
			"felidae", "bird", "parrot", "pigeon", "sparrow", "chicken",
			"duck", "goose", "cow", "cattle", "bull", "buffalo", "horse", "donkey",
			"goat", "sheep", "pig", "camel", "elephant", "monkey", "primate",
			"rabbit", "squirrel", "rodent", "deer", "tiger", "leopard",
			"wolf", "fox", "snake", "reptile", "lizard", "turtle",
			"tortoise", "frog", "fish", "insect", "butterfly", "spider",
			"wildlife", "livestock", "poultry",
		},
		PropertyLabels: []string{
			"property", "real estate", "estate", "house", "home", "building",
			"apartment", "condominium", "villa", "bungalow", "cottage", "mansion",
			"residential area", "neighbourhood", "neighborhood", "tower block",
			"commercial building", "architecture", "facade", "roof", "room",
			"living room", "bedroom", "bathroom", "kitchen", "dining room",
			"interior design", "floor", "flooring", "wall", "ceiling", "window",
			"door", "stairs", "staircase", "balcony", "porch", "patio", "garage",
			"driveway", "fence", "furniture", "table", "chair", "couch", "sofa",
			"bed", "cabinetry", "countertop", "sink", "tile", "hardwood",
			"lighting", "fixture", "plumbing fixture", "garden", "yard", "lawn",
			"landscape", "swimming pool", "land lot", "plot", "farm", "field",
		},
		PropertyObjects: []string{"building", "house", "room", "interior", "exterior", "structure"},
	}
}

// NewVocabulary normalises the lists into lookup structures.
func NewVocabulary(lists VocabularyLists) Vocabulary {
	v := Vocabulary{
		humanLabels:     normalizeTerms(lists.HumanLabels),
		humanObjects:    make(map[string]struct{}),
		animals:         normalizeTerms(lists.Animals),
		propertyLabels:  normalizeTerms(lists.PropertyLabels),
		propertyObjects: normalizeTerms(lists.PropertyObjects),
	}
	for _, term := range normalizeTerms(lists.HumanObjects) {
		v.humanObjects[term] = struct{}{}
	}
	return v
}

// DefaultVocabulary returns the vocabulary built from DefaultVocabularyLists.
func DefaultVocabulary() Vocabulary {
	return NewVocabulary(DefaultVocabularyLists())
}

// Lists returns a copy of the vocabulary in its editable form.
func (v Vocabulary) Lists() VocabularyLists {
	objects := make([]string, 0, len(v.humanObjects))
	for term := range v.humanObjects {
		objects = append(objects, term)
	}
	sort.Strings(objects)
	return VocabularyLists{
		HumanLabels:     append([]string(nil), v.humanLabels...),
		HumanObjects:    objects,
		Animals:         append([]string(nil), v.animals...),
		PropertyLabels:  append([]string(nil), v.propertyLabels...),
		PropertyObjects: append([]string(nil), v.propertyObjects...),
	}
}

// IsHumanLabel reports whether the label names a human term or contains one
// as a whole word.
func (v Vocabulary) IsHumanLabel(description string) bool {
	_, ok := containsTerm(v.humanLabels, description)
	return ok
}

// IsHumanObject reports whether the object name is exactly a human term.
func (v Vocabulary) IsHumanObject(name string) bool {
	_, ok := v.humanObjects[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// MatchAnimal returns the vocabulary term matched by name, if any.
func (v Vocabulary) MatchAnimal(name string) (string, bool) {
	return containsTerm(v.animals, name)
}

// IsPropertyLabel reports whether a label is relevant to real-estate content.
func (v Vocabulary) IsPropertyLabel(description string) bool {
	_, ok := containsTerm(v.propertyLabels, description)
	return ok
}

// IsPropertyObject reports whether a localized object is relevant to
// real-estate content.
func (v Vocabulary) IsPropertyObject(name string) bool {
	_, ok := containsTerm(v.propertyObjects, name)
	return ok
}

// containsTerm matches value against terms by exact match first, then as a
// whole word or phrase inside value. A trailing plural "s" or "es" on the
// last word is accepted, so "dogs" matches "dog" but "facade" does not match
// "face".
func containsTerm(terms []string, value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}
	for _, term := range terms {
		if term == value {
			return term, true
		}
	}
	words := splitWords(value)
	for _, term := range terms {
		if containsPhrase(words, splitWords(term)) {
			return term, true
		}
	}
	return "", false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	for start := 0; start+len(phrase) <= len(words); start++ {
		matched := true
		for i, want := range phrase {
			got := words[start+i]
			if got == want {
				continue
			}
			if i == len(phrase)-1 && (got == want+"s" || got == want+"es") {
				continue
			}
			matched = false
			break
		}
		if matched {
			return true
		}
	}
	return false
}

// splitWords breaks value into words. Hyphenated compounds such as
// "single-family" stay one word.
func splitWords(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}

func mergeLists(base, extra VocabularyLists) VocabularyLists {
	return VocabularyLists{
		HumanLabels:     append(append([]string(nil), base.HumanLabels...), extra.HumanLabels...),
		HumanObjects:    append(append([]string(nil), base.HumanObjects...), extra.HumanObjects...),
		Animals:         append(append([]string(nil), base.Animals...), extra.Animals...),
		PropertyLabels:  append(append([]string(nil), base.PropertyLabels...), extra.PropertyLabels...),
		PropertyObjects: append(append([]string(nil), base.PropertyObjects...), extra.PropertyObjects...),
	}
}

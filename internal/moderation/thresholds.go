package moderation

// Thresholds are the numeric cut-offs used by the gates. Comparisons against
// rejection thresholds are inclusive; the property-context floor is exclusive.
type Thresholds struct {
	Adult           float64 `yaml:"adult" json:"adult"`
	Violence        float64 `yaml:"violence" json:"violence"`
	Racy            float64 `yaml:"racy" json:"racy"`
	Face            float64 `yaml:"face" json:"face"`
	HumanObject     float64 `yaml:"human_object" json:"human_object"`
	HumanLabel      float64 `yaml:"human_label" json:"human_label"`
	AnimalObject    float64 `yaml:"animal_object" json:"animal_object"`
	AnimalLabel     float64 `yaml:"animal_label" json:"animal_label"`
	MinWidth        int     `yaml:"min_width" json:"min_width"`
	MinHeight       int     `yaml:"min_height" json:"min_height"`
	PropertyContext float64 `yaml:"property_context" json:"property_context"`
	HighTextWords   int     `yaml:"high_text_words" json:"high_text_words"`
}

// DefaultThresholds returns the production threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Adult:           0.6,
		Violence:        0.6,
		Racy:            0.6,
		Face:            0.5,
		HumanObject:     0.5,
		HumanLabel:      0.6,
		AnimalObject:    0.5,
		AnimalLabel:     0.6,
		MinWidth:        400,
		MinHeight:       300,
		PropertyContext: 0.3,
		HighTextWords:   30,
	}
}

// withDefaults fills zero values from the defaults so a partial rules file
// only overrides what it names.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Adult <= 0 {
		t.Adult = d.Adult
	}
	if t.Violence <= 0 {
		t.Violence = d.Violence
	}
	if t.Racy <= 0 {
		t.Racy = d.Racy
	}
	if t.Face <= 0 {
		t.Face = d.Face
	}
	if t.HumanObject <= 0 {
		t.HumanObject = d.HumanObject
	}
	if t.HumanLabel <= 0 {
		t.HumanLabel = d.HumanLabel
	}
	if t.AnimalObject <= 0 {
		t.AnimalObject = d.AnimalObject
	}
	if t.AnimalLabel <= 0 {
		t.AnimalLabel = d.AnimalLabel
	}
	if t.MinWidth <= 0 {
		t.MinWidth = d.MinWidth
	}
	if t.MinHeight <= 0 {
		t.MinHeight = d.MinHeight
	}
	if t.PropertyContext <= 0 {
		t.PropertyContext = d.PropertyContext
	}
	if t.HighTextWords <= 0 {
		t.HighTextWords = d.HighTextWords
	}
	return t
}

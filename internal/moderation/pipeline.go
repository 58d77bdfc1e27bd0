package moderation

import (
	"property-moderation/backend/internal/vision"
)

// Input is what one pipeline run looks at.
type Input struct {
	Dimensions Dimensions
	Signals    vision.Signals
}

// Gate inspects an input and returns a terminal verdict, or nil to pass.
type Gate struct {
	Name  string
	Check func(Input, Rules) *Verdict
}

// DefaultGates returns the gates in evaluation order.
func DefaultGates() []Gate {
	return []Gate{
		{Name: "quality", Check: checkQuality},
		{Name: "availability", Check: checkAvailability},
		{Name: "content", Check: checkContent},
		{Name: "human", Check: checkHuman},
		{Name: "animal", Check: checkAnimal},
		{Name: "safe_search", Check: checkSafeSearch},
		{Name: "property_context", Check: checkPropertyContext},
	}
}

// Pipeline runs the gates in order and stops at the first verdict. It holds
// no mutable state and is safe for concurrent use.
type Pipeline struct {
	rules Rules
	gates []Gate
}

// NewPipeline builds a pipeline with the default gate order.
func NewPipeline(rules Rules) *Pipeline {
	return &Pipeline{rules: rules, gates: DefaultGates()}
}

// Rules returns the rules the pipeline was built with.
func (p *Pipeline) Rules() Rules {
	return p.rules
}

// Evaluate returns the verdict for one image. Errors are reserved for
// contract violations such as non-positive dimensions.
func (p *Pipeline) Evaluate(dims Dimensions, signals vision.Signals) (Verdict, error) {
	v, _, err := p.EvaluateTrace(dims, signals)
	return v, err
}

// EvaluateTrace is Evaluate plus the name of the gate that decided, or
// "approve" when every gate passed.
func (p *Pipeline) EvaluateTrace(dims Dimensions, signals vision.Signals) (Verdict, string, error) {
	if err := dims.validate(); err != nil {
		return Verdict{}, "", err
	}
	in := Input{Dimensions: dims, Signals: signals}
	for _, gate := range p.gates {
		if v := gate.Check(in, p.rules); v != nil {
			return *v, gate.Name, nil
		}
	}
	return p.approve(in), "approve", nil
}

func (p *Pipeline) approve(in Input) Verdict {
	details := []Detail{
		{"width", in.Dimensions.Width},
		{"height", in.Dimensions.Height},
	}
	if pc := ScorePropertyContext(in.Signals, p.rules); pc.Total > 0 {
		details = append(details, Detail{"property_context_score", pc.Score})
	}
	return newVerdict(StatusApproved, ReasonApproved, nil, details...)
}

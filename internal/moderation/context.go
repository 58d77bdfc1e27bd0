package moderation

import (
	"sort"

	"property-moderation/backend/internal/vision"
)

const topLabelCount = 5

// PropertyContext is the property-relevance score of an image.
type PropertyContext struct {
	Score     float64  `json:"score"`
	Relevant  int      `json:"relevant"`
	Total     int      `json:"total"`
	TopLabels []string `json:"top_labels"`
}

// ScorePropertyContext computes relevant/total over detections whose score
// exceeds the property-context threshold. A label and an object naming the
// same thing are counted separately.
func ScorePropertyContext(s vision.Signals, r Rules) PropertyContext {
	floor := r.Thresholds.PropertyContext
	var pc PropertyContext

	meaningful := make([]vision.Label, 0, len(s.Labels))
	for _, label := range s.Labels {
		if label.Score <= floor {
			continue
		}
		meaningful = append(meaningful, label)
		pc.Total++
		if r.Vocabulary.IsPropertyLabel(label.Description) {
			pc.Relevant++
		}
	}
	for _, obj := range s.Objects {
		if obj.Score <= floor {
			continue
		}
		pc.Total++
		if r.Vocabulary.IsPropertyObject(obj.Name) {
			pc.Relevant++
		}
	}
	if pc.Total > 0 {
		pc.Score = float64(pc.Relevant) / float64(pc.Total)
	}

	sort.SliceStable(meaningful, func(i, j int) bool { return meaningful[i].Score > meaningful[j].Score })
	for i := 0; i < len(meaningful) && i < topLabelCount; i++ {
		pc.TopLabels = append(pc.TopLabels, meaningful[i].Description)
	}
	return pc
}

// checkPropertyContext flags images that do not look like property photos.
// With no meaningful detections there is nothing to judge, so it passes.
func checkPropertyContext(in Input, r Rules) *Verdict {
	pc := ScorePropertyContext(in.Signals, r)
	if pc.Total == 0 || pc.Score >= r.Thresholds.PropertyContext {
		return nil
	}
	v := newVerdict(StatusNeedsReview, ReasonNotProperty, nil,
		Detail{"detected_issue", "image does not appear to show a property"},
		Detail{"property_context_score", pc.Score},
		Detail{"threshold", r.Thresholds.PropertyContext},
		Detail{"relevant_count", pc.Relevant},
		Detail{"total_count", pc.Total},
		Detail{"top_labels", pc.TopLabels},
	)
	return &v
}

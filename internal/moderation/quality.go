package moderation

import "strconv"

// checkQuality rejects images below the minimum resolution. Dimensions come
// from the file header, not the classifier, so this runs before anything that
// depends on the vision call.
func checkQuality(in Input, r Rules) *Verdict {
	t := r.Thresholds
	if in.Dimensions.Width >= t.MinWidth && in.Dimensions.Height >= t.MinHeight {
		return nil
	}
	return reject(ReasonLowQuality,
		map[string]string{
			"width":      strconv.Itoa(in.Dimensions.Width),
			"height":     strconv.Itoa(in.Dimensions.Height),
			"min_width":  strconv.Itoa(t.MinWidth),
			"min_height": strconv.Itoa(t.MinHeight),
		},
		Detail{"detected_issue", "image below minimum resolution"},
		Detail{"width", in.Dimensions.Width},
		Detail{"height", in.Dimensions.Height},
		Detail{"min_width", t.MinWidth},
		Detail{"min_height", t.MinHeight},
	)
}

// checkAvailability parks the image as PENDING when the classifier call
// failed. This is not a content judgement.
func checkAvailability(in Input, _ Rules) *Verdict {
	if in.Signals.APISuccess {
		return nil
	}
	details := []Detail{{"detected_issue", "vision analysis unavailable"}}
	if in.Signals.Error != "" {
		details = append(details, Detail{"error", in.Signals.Error})
	}
	v := newVerdict(StatusPending, ReasonAPIError, nil, details...)
	return &v
}

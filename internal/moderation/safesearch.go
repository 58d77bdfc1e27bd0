package moderation

// checkSafeSearch rejects adult, violent or racy content. A missing annotation
// or an unknown score is never read as safe: when no known score rejects, the
// image goes to manual review.
func checkSafeSearch(in Input, r Rules) *Verdict {
	ss := in.Signals.SafeSearch
	if ss == nil {
		v := newVerdict(StatusNeedsReview, ReasonSafeSearchUnavailable, nil,
			Detail{"detected_issue", "safe search annotation missing"},
			Detail{"unknown_categories", []string{"adult", "violence", "racy"}},
		)
		return &v
	}

	t := r.Thresholds
	checks := []struct {
		category  string
		score     *float64
		threshold float64
		reason    Reason
	}{
		{"adult", ss.Adult, t.Adult, ReasonAdultContent},
		{"violence", ss.Violence, t.Violence, ReasonViolenceContent},
		{"racy", ss.Racy, t.Racy, ReasonRacyContent},
	}

	var unknown []string
	for _, c := range checks {
		if c.score == nil {
			unknown = append(unknown, c.category)
			continue
		}
		if *c.score >= c.threshold {
			return reject(c.reason, nil,
				Detail{"detected_issue", c.category + " content"},
				Detail{"category", c.category},
				Detail{"score", *c.score},
				Detail{"threshold", c.threshold},
			)
		}
	}
	if len(unknown) > 0 {
		v := newVerdict(StatusNeedsReview, ReasonSafeSearchUnavailable, nil,
			Detail{"detected_issue", "safe search scores unknown"},
			Detail{"unknown_categories", unknown},
		)
		return &v
	}
	return nil
}

package moderation

import (
	"strings"

	"property-moderation/backend/internal/vision"
)

// checkContent rejects images carrying contact details, business cards,
// documents or large amounts of text. It looks only at OCR text and labels.
func checkContent(in Input, r Rules) *Verdict {
	flags := textFlags(in.Signals, r.Thresholds.HighTextWords)

	var issues []string
	if flags.HasPhone {
		issues = append(issues, "phone_number")
	}
	if flags.HasEmail {
		issues = append(issues, "email")
	}
	if flags.IsVisitingCard {
		issues = append(issues, "visiting_card")
	}
	if len(issues) > 0 {
		return reject(ReasonOCRContent,
			map[string]string{"issues": strings.ReplaceAll(strings.Join(issues, ", "), "_", " ")},
			Detail{"detected_issue", "contact details or document detected"},
			Detail{"issues", issues},
			Detail{"word_count", flags.WordCount},
		)
	}

	if flags.IsHighText {
		return reject(ReasonHighText, nil,
			Detail{"detected_issue", "image is mostly text"},
			Detail{"word_count", flags.WordCount},
			Detail{"max_words", r.Thresholds.HighTextWords},
		)
	}
	return nil
}

// textFlags recomputes the OCR flags with the configured word limit and ORs in
// whatever the classifier already derived.
func textFlags(s vision.Signals, highTextWords int) vision.TextFlags {
	flags := vision.AnalyzeText(s.OCRText, s.Labels, highTextWords)
	flags.HasPhone = flags.HasPhone || s.Text.HasPhone
	flags.HasEmail = flags.HasEmail || s.Text.HasEmail
	flags.IsVisitingCard = flags.IsVisitingCard || s.Text.IsVisitingCard
	flags.IsHighText = flags.IsHighText || s.Text.IsHighText
	if s.Text.WordCount > flags.WordCount {
		flags.WordCount = s.Text.WordCount
	}
	return flags
}

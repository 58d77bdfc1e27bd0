package moderation

// checkHuman rejects images with a clear human subject. Faces and localized
// person objects reject on their own; human labels only count when a face or
// person object was also detected somewhere in the image, since labels alone
// misfire on things like "human settlement".
func checkHuman(in Input, r Rules) *Verdict {
	t := r.Thresholds
	s := in.Signals

	bestFace := -1.0
	for _, face := range s.Faces {
		if face.Confidence >= t.Face && face.Confidence > bestFace {
			bestFace = face.Confidence
		}
	}
	if bestFace >= 0 {
		return reject(ReasonHumanDetected, nil,
			Detail{"detected_issue", "face detected"},
			Detail{"method", MethodFace},
			Detail{"confidence", bestFace},
			Detail{"faces", len(s.Faces)},
		)
	}

	var (
		humanObjects int
		bestObject   string
		bestScore    = -1.0
	)
	for _, obj := range s.Objects {
		if !r.Vocabulary.IsHumanObject(obj.Name) {
			continue
		}
		humanObjects++
		if obj.Score >= t.HumanObject && obj.Score > bestScore {
			bestObject, bestScore = obj.Name, obj.Score
		}
	}
	if bestScore >= 0 {
		return reject(ReasonHumanDetected, nil,
			Detail{"detected_issue", "person detected"},
			Detail{"method", MethodObject},
			Detail{"object", bestObject},
			Detail{"confidence", bestScore},
		)
	}

	if len(s.Faces) == 0 && humanObjects == 0 {
		return nil
	}

	var (
		bestLabel      string
		bestLabelScore = -1.0
	)
	for _, label := range s.Labels {
		if label.Score < t.HumanLabel || !r.Vocabulary.IsHumanLabel(label.Description) {
			continue
		}
		if label.Score > bestLabelScore {
			bestLabel, bestLabelScore = label.Description, label.Score
		}
	}
	if bestLabelScore < 0 {
		return nil
	}
	return reject(ReasonHumanDetected, nil,
		Detail{"detected_issue", "human label corroborated by face or person detection"},
		Detail{"method", MethodLabelCorroborated},
		Detail{"label", bestLabel},
		Detail{"confidence", bestLabelScore},
		Detail{"faces", len(s.Faces)},
		Detail{"human_objects", humanObjects},
	)
}

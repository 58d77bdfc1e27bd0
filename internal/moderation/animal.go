package moderation

// checkAnimal mirrors checkHuman: a confident animal object rejects outright,
// an animal label rejects only when some animal object was localized too, at
// any score.
func checkAnimal(in Input, r Rules) *Verdict {
	t := r.Thresholds
	s := in.Signals

	var (
		animalObjects []string
		bestName      string
		bestTerm      string
		bestScore     = -1.0
	)
	for _, obj := range s.Objects {
		term, ok := r.Vocabulary.MatchAnimal(obj.Name)
		if !ok {
			continue
		}
		animalObjects = append(animalObjects, obj.Name)
		if obj.Score >= t.AnimalObject && obj.Score > bestScore {
			bestName, bestTerm, bestScore = obj.Name, term, obj.Score
		}
	}
	if bestScore >= 0 {
		return reject(ReasonAnimalDetected,
			map[string]string{"animal_name": bestName},
			Detail{"detected_issue", "animal detected"},
			Detail{"method", MethodObject},
			Detail{"animal", bestName},
			Detail{"matched_term", bestTerm},
			Detail{"confidence", bestScore},
		)
	}
	if len(animalObjects) == 0 {
		return nil
	}

	var (
		bestLabel      string
		bestLabelScore = -1.0
	)
	for _, label := range s.Labels {
		if label.Score < t.AnimalLabel {
			continue
		}
		if _, ok := r.Vocabulary.MatchAnimal(label.Description); !ok {
			continue
		}
		if label.Score > bestLabelScore {
			bestLabel, bestLabelScore = label.Description, label.Score
		}
	}
	if bestLabelScore < 0 {
		return nil
	}
	return reject(ReasonAnimalDetected,
		map[string]string{"animal_name": bestLabel},
		Detail{"detected_issue", "animal label corroborated by object detection"},
		Detail{"method", MethodLabelWithObject},
		Detail{"animal", bestLabel},
		Detail{"confidence", bestLabelScore},
		Detail{"animal_objects", animalObjects},
	)
}

package evaluation

import (
	"strings"

	"github.com/hupe1980/draftmesh/core"
)

const (
	minScore = 0.0
	maxScore = 10.0
)

func clampScore(s float64) float64 {
	switch {
	case s < minScore:
		return minScore
	case s > maxScore:
		return maxScore
	default:
		return s
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// OverallScore computes the weighted mean of scores against the configured
// criteria. Scores for criteria that are not configured are ignored. With no
// configured criteria every score counts with weight 1.0. ok is false when no
// score contributes to the mean.
func OverallScore(scores []core.CriterionScore, criteria []core.EvaluationCriterion) (float64, bool) {
	var sum, weights float64

	if len(criteria) == 0 {
		for _, s := range scores {
			sum += s.Score
			weights++
		}
	} else {
		byName := make(map[string]float64, len(criteria))
		for _, c := range criteria {
			byName[normalizeName(c.Name)] = c.EffectiveWeight()
		}

		seen := make(map[string]bool, len(scores))

		for _, s := range scores {
			key := normalizeName(s.Criterion)

			w, ok := byName[key]
			if !ok || seen[key] {
				continue
			}

			seen[key] = true
			sum += w * s.Score
			weights += w
		}
	}

	if weights == 0 {
		return 0, false
	}

	return sum / weights, true
}

// buildEvaluation assembles an Evaluation. reported is the model's own
// overall score and is used only when no configured criterion was scored.
func buildEvaluation(scores []core.CriterionScore, reported *float64, summary string, criteria []core.EvaluationCriterion) *core.Evaluation {
	if len(scores) == 0 && reported == nil && summary == "" {
		return nil
	}

	ev := &core.Evaluation{CriteriaScores: scores, Summary: summary}

	if overall, ok := OverallScore(scores, criteria); ok {
		ev.OverallScore = &overall
	} else if reported != nil {
		v := clampScore(*reported)
		ev.OverallScore = &v
	}

	if ev.CriteriaScores == nil {
		ev.CriteriaScores = []core.CriterionScore{}
	}

	return ev
}

// Package scoring turns a set of lettered assessment answers into archetype
// scores, a primary archetype and an experience tier. Everything here is pure
// and total: bad input yields defaults, never an error or panic.
package scoring

import (
	"sort"
	"strconv"
	"strings"
)

// Experience tiers.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

const (
	intermediateThreshold = 0.60
	advancedThreshold     = 0.85
)

// Assessment is the full scoring result persisted as the assessment result record.
type Assessment struct {
	ArchetypeScores   map[Archetype]float64 `json:"archetype_scores"`
	AssignedArchetype Archetype             `json:"assigned_archetype"`
	ExperienceLevel   string                `json:"experience_level"`
	TestResponses     map[string]string     `json:"test_responses"`
}

// Score adds 1.0 to the archetype mapped by each valid (question, letter) pair.
// Keys are step keys ("question_3") or bare numbers ("3"). Unknown keys,
// out-of-range questions and letters that are not options are skipped.
// Every archetype of the bank is present in the result.
func (b *Bank) Score(responses map[string]string) map[Archetype]float64 {
	scores := make(map[Archetype]float64, len(b.Archetypes))
	for _, a := range b.Archetypes {
		scores[a] = 0
	}
	for key, raw := range responses {
		n, ok := questionNumber(key)
		if !ok {
			continue
		}
		row, ok := b.table[n]
		if !ok {
			continue
		}
		letter := strings.ToUpper(strings.TrimSpace(raw))
		if a, ok := row[letter]; ok {
			scores[a]++
		}
	}
	return scores
}

func questionNumber(key string) (int, bool) {
	key = strings.TrimPrefix(key, "question_")
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// PrimaryArchetype is the argmax of scores with ties broken by ascending name.
// Empty or all-zero scores return fallback.
func PrimaryArchetype(scores map[Archetype]float64, fallback Archetype) Archetype {
	names := make([]Archetype, 0, len(scores))
	for a := range scores {
		names = append(names, a)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	best := fallback
	bestScore := 0.0
	for _, a := range names {
		if scores[a] > bestScore {
			best, bestScore = a, scores[a]
		}
	}
	return best
}

// PrimaryArchetype applies the package function with the bank's default.
func (b *Bank) PrimaryArchetype(scores map[Archetype]float64) Archetype {
	return PrimaryArchetype(scores, b.DefaultArchetype())
}

// ExperienceLevel tiers sum(scores)/totalQuestions: below 0.60 beginner,
// 0.60 through 0.85 intermediate, above 0.85 advanced. A non-positive
// totalQuestions is beginner.
func ExperienceLevel(scores map[Archetype]float64, totalQuestions int) string {
	if totalQuestions <= 0 {
		return LevelBeginner
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	ratio := sum / float64(totalQuestions)
	switch {
	case ratio < intermediateThreshold:
		return LevelBeginner
	case ratio <= advancedThreshold:
		return LevelIntermediate
	default:
		return LevelAdvanced
	}
}

// Assess composes Score, PrimaryArchetype and ExperienceLevel. A nil map is
// treated as no answers.
func (b *Bank) Assess(responses map[string]string) Assessment {
	scores := b.Score(responses)
	kept := make(map[string]string, len(responses))
	for k, v := range responses {
		kept[k] = v
	}
	return Assessment{
		ArchetypeScores:   scores,
		AssignedArchetype: b.PrimaryArchetype(scores),
		ExperienceLevel:   ExperienceLevel(scores, b.Total()),
		TestResponses:     kept,
	}
}

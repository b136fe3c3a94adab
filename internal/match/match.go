// Package match scores candidate profiles against job postings. Scoring is
// pure and deterministic: identical inputs always produce identical output,
// so results can be recomputed at any time and cached rows are never
// authoritative.
package match

import (
	"math"
	"sort"
	"strings"

	"resume-pipeline/internal/models"
)

const (
	skillWeight      = 0.6
	experienceWeight = 0.4

	// Used when a candidate has no structured profile yet. A profile scored
	// zero keeps its zero.
	defaultExperienceScore = 50.0
)

// skillMatches reports whether a candidate skill satisfies a required one:
// case-insensitive substring containment in either direction.
func skillMatches(candidate, required string) bool {
	c := strings.ToLower(candidate)
	r := strings.ToLower(required)
	return strings.Contains(c, r) || strings.Contains(r, c)
}

// SkillScore is the percentage of the job's required skills covered by the
// candidate. Jobs listing no required skills score zero.
func SkillScore(candidateSkills, requiredSkills []string) float64 {
	if len(requiredSkills) == 0 {
		return 0
	}
	matched := 0
	for _, req := range requiredSkills {
		for _, cand := range candidateSkills {
			if skillMatches(cand, req) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(requiredSkills)) * 100
}

// Score computes the final match score in [0,100] for one candidate profile
// against one posting, rounded to two decimals.
func Score(analysis *models.Analysis, job models.JobPosting) float64 {
	var candidateSkills []string
	experienceScore := defaultExperienceScore
	if analysis != nil {
		candidateSkills = analysis.Skills
		if analysis.Profiled {
			experienceScore = analysis.OverallScore
		}
	}
	skillScore := SkillScore(candidateSkills, job.Skills)
	return round2(skillScore*skillWeight + experienceScore*experienceWeight)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AllJobs scores the candidate against every active posting, keeps scores
// above zero, and sorts descending by score. The sort is stable so ties keep
// the postings' enumeration order.
func AllJobs(analysis *models.Analysis, candidateID string, jobs []models.JobPosting) []models.Match {
	var matches []models.Match
	for _, job := range jobs {
		if job.Status != models.JobActive {
			continue
		}
		score := Score(analysis, job)
		if score <= 0 {
			continue
		}
		matches = append(matches, models.Match{
			CandidateID: candidateID,
			JobID:       job.ID,
			Score:       score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

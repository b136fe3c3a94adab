package analyze

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/models"
)

const sampleResume = "5 years experience as Senior Software Engineer at Acme Corp, Java, Python, AWS"

func TestExtractSampleResume(t *testing.T) {
	p := Extract(sampleResume)

	assert.ElementsMatch(t, []string{"Java", "Python", "AWS"}, p.Skills)
	assert.Equal(t, 5.0, p.Experience.TotalYears)
	assert.Equal(t, "Senior Software Engineer", p.Experience.CurrentRole)

	// 3 skills * 2 + 30 for the >=5y tier + 10 for a known current role.
	assert.Equal(t, 46.0, p.OverallScore)
	assert.Equal(t, "NEUTRAL", p.Sentiment)
	assert.Equal(t, "Unknown", p.Education.Degree)
}

func TestExtractDeterministic(t *testing.T) {
	a := Extract(sampleResume)
	b := Extract(sampleResume)
	assert.Equal(t, a, b)
}

func TestSkillsCapped(t *testing.T) {
	text := strings.Join(technicalSkills, " ")
	skills := Skills(text)
	assert.Len(t, skills, 20)
}

func TestSkillsCaseInsensitive(t *testing.T) {
	skills := Skills("expert in PYTHON and docker; strong leadership")
	assert.Contains(t, skills, "Python")
	assert.Contains(t, skills, "Docker")
	assert.Contains(t, skills, "Leadership")
}

func TestJobTitlesDeduplicated(t *testing.T) {
	titles := JobTitles("Software Engineer, software engineer, Software Engineer")
	assert.Len(t, titles, 1)
}

func TestOrganizations(t *testing.T) {
	orgs := Organizations("worked at Globex for three years")
	assert.Contains(t, orgs, "Globex")

	// Length filter: 2-50 characters only.
	assert.Empty(t, Organizations("at X."))
}

func TestExperienceTakesMaximumYears(t *testing.T) {
	exp := ExperienceSummary("2 years of experience in testing, later over 7 years in the industry", nil)
	assert.Equal(t, 7.0, exp.TotalYears)
	assert.Equal(t, "", exp.CurrentRole)
	assert.Contains(t, exp.Summary, "various roles")
}

func TestEducationDefaults(t *testing.T) {
	edu := EducationInfo("no schooling mentioned here")
	assert.Equal(t, models.Education{Degree: "Unknown", University: "Unknown", GraduationYear: 0}, edu)
}

func TestEducationExtracted(t *testing.T) {
	edu := EducationInfo("Bachelor of Science, Stanford University, graduated in 2019")
	assert.Equal(t, "Bachelor", edu.Degree)
	assert.NotEqual(t, "Unknown", edu.University)
	assert.Equal(t, 2019, edu.GraduationYear)
}

func TestKeyPhrasesLengthFiltered(t *testing.T) {
	phrases := KeyPhrases("developed a distributed ingestion pipeline for resumes. led x.")
	require.NotEmpty(t, phrases)
	for _, ph := range phrases {
		assert.Greater(t, len(ph), 10)
		assert.Less(t, len(ph), 100)
	}
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, "POSITIVE", Sentiment("achieved outstanding results"))
	assert.Equal(t, "NEGATIVE", Sentiment("the project failed with poor results"))
	assert.Equal(t, "NEUTRAL", Sentiment("wrote some code"))
}

func TestOverallScoreTiers(t *testing.T) {
	skills := []string{"Java", "Python"}
	cases := []struct {
		years float64
		want  int
	}{
		{0, 4},
		{1, 14},
		{3, 24},
		{5, 34},
		{12, 34},
	}
	for _, tc := range cases {
		got := OverallScore(skills, models.Experience{TotalYears: tc.years}, models.Education{Degree: "Unknown", University: "Unknown"})
		assert.Equal(t, tc.want, got, "years=%v", tc.years)
	}

	// Degree adds 20, university alone adds 10, current role adds 10.
	assert.Equal(t, 24, OverallScore(skills, models.Experience{}, models.Education{Degree: "Master", University: "Unknown"}))
	assert.Equal(t, 14, OverallScore(skills, models.Experience{}, models.Education{Degree: "Unknown", University: "MIT"}))
	assert.Equal(t, 14, OverallScore(skills, models.Experience{CurrentRole: "Engineer"}, models.Education{Degree: "Unknown", University: "Unknown"}))

	// Capped at 100.
	many := make([]string, 30)
	for i := range many {
		many[i] = "skill"
	}
	got := OverallScore(many, models.Experience{TotalYears: 10, CurrentRole: "CTO"}, models.Education{Degree: "PhD"})
	assert.Equal(t, 100, got)
}

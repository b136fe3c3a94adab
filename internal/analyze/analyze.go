// Package analyze derives a structured candidate profile from raw résumé
// text. Everything here is best-effort, deterministic pattern matching:
// absence of a match yields an empty or default value, never an error.
package analyze

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"resume-pipeline/internal/models"
)

const (
	maxSkills     = 20
	maxJobTitles  = 10
	maxOrgs       = 10
	maxKeyPhrases = 15
)

var technicalSkills = []string{
	"Python", "JavaScript", "Java", "C++", "C#", "Go", "Rust", "Swift", "Kotlin",
	"React", "Angular", "Vue", "Node.js", "Express", "Django", "Flask", "Spring",
	"HTML", "CSS", "Bootstrap", "jQuery", "TypeScript", "PHP", "Ruby", "Laravel",
	"SQL", "MySQL", "PostgreSQL", "MongoDB", "Redis", "DynamoDB", "Oracle",
	"AWS", "Azure", "GCP", "Docker", "Kubernetes", "Jenkins", "Git", "GitHub",
	"Linux", "Windows", "MacOS", "Unix", "Bash", "PowerShell",
	"Machine Learning", "AI", "TensorFlow", "PyTorch", "Pandas", "NumPy",
	"Data Science", "Analytics", "Big Data", "Hadoop", "Spark", "Kafka",
}

var softSkills = []string{
	"Leadership", "Team Management", "Communication", "Problem Solving",
	"Project Management", "Agile", "Scrum", "Collaboration", "Mentoring",
	"Time Management", "Critical Thinking", "Adaptability", "Creativity",
	"Negotiation", "Presentation", "Writing", "Public Speaking",
}

var experiencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d+)\+?\s*years?\s*(?:of\s*)?(?:experience|expertise)`),
	regexp.MustCompile(`(?i)(?:experience|expertise)[:\s]*(\d+)\+?\s*years?`),
	regexp.MustCompile(`(?i)(\d+)\+?\s*years?\s*in\s*(?:the\s*)?(?:field|industry|profession)`),
	regexp.MustCompile(`(?i)(\d+)\+?\s*years?\s*(?:of\s*)?(?:experience|expertise|in)`),
	regexp.MustCompile(`(?i)(?:over|with)\s*(\d+)\+?\s*years?`),
}

var jobTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:Senior|Junior|Lead|Principal|Staff)?\s*(?:Software\s+)?(?:Engineer|Developer|Programmer|Architect|Manager|Director|Analyst|Consultant|Specialist)`),
	regexp.MustCompile(`(?i)(?:Full\s+Stack|Front\s+End|Back\s+End|DevOps|Data|Machine\s+Learning|AI)\s+(?:Engineer|Developer|Specialist)`),
	regexp.MustCompile(`(?i)(?:Product|Project|Technical|Engineering)\s+(?:Manager|Lead|Director)`),
}

var organizationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:at|@|worked\s+at|employed\s+at)\s+([A-Za-z\s&.,]+?)(?:\s|$|,|\n)`),
	regexp.MustCompile(`(?i)([A-Za-z\s&.,]+?)\s+(?:Inc|Corp|LLC|Ltd|Company|Technologies|Solutions|Systems)`),
	regexp.MustCompile(`(?i)(?:Company|Organization):\s*([A-Za-z\s&.,]+)`),
}

var degreePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(Bachelor|Master|PhD|Doctorate|Associate|Diploma|Certificate)\s*(?:of\s*)?(?:Science|Arts|Engineering|Business|Computer Science|Information Technology|Data Science|Software Engineering)?`),
	regexp.MustCompile(`(?i)(B\.?S\.?|M\.?S\.?|B\.?A\.?|M\.?A\.?|Ph\.?D\.?|MBA|M\.?B\.?A\.?)\b`),
}

var universityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:University|College|Institute|School)\s+of\s+([A-Za-z\s]+)`),
	regexp.MustCompile(`(?i)([A-Za-z\s]+)\s+(?:University|College|Institute)`),
}

var graduationYearPattern = regexp.MustCompile(`(?i)(?:graduated|completed|finished).*?(\d{4})`)

var keyPhrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:led|managed|developed|designed|implemented|created|built|maintained|optimized|improved)\s+[^.]*`),
	regexp.MustCompile(`(?i)(?:experience|expertise|proficient|skilled)\s+in\s+[^.]*`),
	regexp.MustCompile(`(?i)(?:responsible|accountable)\s+for\s+[^.]*`),
}

var positiveWords = []string{"excellent", "outstanding", "achieved", "successful", "innovative", "creative", "passionate", "dedicated"}
var negativeWords = []string{"failed", "unsuccessful", "poor", "bad", "terrible", "awful"}

// Profile is the structured data derived from one résumé.
type Profile struct {
	Skills        []string
	JobTitles     []string
	Organizations []string
	KeyPhrases    []string
	Experience    models.Experience
	Education     models.Education
	OverallScore  float64
	Sentiment     string
}

// Extract derives the full profile from raw text.
func Extract(text string) Profile {
	skills := Skills(text)
	titles := JobTitles(text)
	exp := ExperienceSummary(text, titles)
	edu := EducationInfo(text)
	return Profile{
		Skills:        skills,
		JobTitles:     titles,
		Organizations: Organizations(text),
		KeyPhrases:    KeyPhrases(text),
		Experience:    exp,
		Education:     edu,
		OverallScore:  float64(OverallScore(skills, exp, edu)),
		Sentiment:     Sentiment(text),
	}
}

// Skills matches the fixed technical and soft skill vocabulary against the
// text, case-insensitive, capped at 20 results in vocabulary order.
func Skills(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, skill := range technicalSkills {
		if strings.Contains(lower, strings.ToLower(skill)) {
			found = append(found, skill)
		}
	}
	for _, skill := range softSkills {
		if strings.Contains(lower, strings.ToLower(skill)) {
			found = append(found, skill)
		}
	}
	if len(found) > maxSkills {
		found = found[:maxSkills]
	}
	return found
}

// JobTitles pattern-matches role names, deduplicated case-insensitively in
// first-seen order, capped at 10.
func JobTitles(text string) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, p := range jobTitlePatterns {
		for _, m := range p.FindAllString(text, -1) {
			title := strings.TrimSpace(m)
			if title == "" {
				continue
			}
			key := strings.ToLower(title)
			if seen[key] {
				continue
			}
			seen[key] = true
			titles = append(titles, title)
		}
	}
	if len(titles) > maxJobTitles {
		titles = titles[:maxJobTitles]
	}
	return titles
}

// Organizations pattern-matches company names around "at"/"worked at" and
// legal-entity suffixes, keeping candidates of 2-50 characters, capped at 10.
func Organizations(text string) []string {
	seen := make(map[string]bool)
	var orgs []string
	for _, p := range organizationPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			org := strings.TrimSpace(m[1])
			if len(org) <= 2 || len(org) >= 50 {
				continue
			}
			key := strings.ToLower(org)
			if seen[key] {
				continue
			}
			seen[key] = true
			orgs = append(orgs, org)
		}
	}
	if len(orgs) > maxOrgs {
		orgs = orgs[:maxOrgs]
	}
	return orgs
}

// ExperienceSummary extracts the maximum year count mentioned in the text
// and takes current/previous roles from the already-extracted title list.
func ExperienceSummary(text string, titles []string) models.Experience {
	exp := models.Experience{PreviousRoles: []string{}}

	var maxYears float64
	for _, p := range experiencePatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			years, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			if years > maxYears {
				maxYears = years
			}
		}
	}
	exp.TotalYears = maxYears

	if len(titles) > 0 {
		exp.CurrentRole = titles[0]
		rest := titles[1:]
		if len(rest) > 4 {
			rest = rest[:4]
		}
		exp.PreviousRoles = append(exp.PreviousRoles, rest...)
	}

	if exp.TotalYears > 0 {
		role := exp.CurrentRole
		if role == "" {
			role = "various roles"
		}
		exp.Summary = fmt.Sprintf("Experienced professional with %g years of experience in %s", exp.TotalYears, role)
	}
	return exp
}

// EducationInfo extracts degree, university, and graduation year, defaulting
// to Unknown/0 when no pattern matches.
func EducationInfo(text string) models.Education {
	edu := models.Education{Degree: "Unknown", University: "Unknown"}

	for _, p := range degreePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			edu.Degree = strings.TrimSpace(m[1])
			break
		}
	}
	for _, p := range universityPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			edu.University = strings.TrimSpace(m[1])
			break
		}
	}
	if m := graduationYearPattern.FindStringSubmatch(text); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			edu.GraduationYear = year
		}
	}
	return edu
}

// KeyPhrases extracts action-verb-led clauses of 10-100 characters, capped
// at 15.
func KeyPhrases(text string) []string {
	var phrases []string
	for _, p := range keyPhrasePatterns {
		for _, m := range p.FindAllString(text, -1) {
			phrase := strings.TrimSpace(m)
			if len(phrase) > 10 && len(phrase) < 100 {
				phrases = append(phrases, phrase)
			}
		}
	}
	if len(phrases) > maxKeyPhrases {
		phrases = phrases[:maxKeyPhrases]
	}
	return phrases
}

// Sentiment counts a fixed positive/negative lexicon.
func Sentiment(text string) string {
	lower := strings.ToLower(text)
	var pos, neg int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "POSITIVE"
	case neg > pos:
		return "NEGATIVE"
	default:
		return "NEUTRAL"
	}
}

// OverallScore combines skills (2 points each, up to 40), tiered experience
// years (up to 30), education (degree 20, university only 10), and a known
// current role (10), capped at 100.
func OverallScore(skills []string, exp models.Experience, edu models.Education) int {
	score := len(skills) * 2
	if score > 40 {
		score = 40
	}

	switch {
	case exp.TotalYears >= 5:
		score += 30
	case exp.TotalYears >= 3:
		score += 20
	case exp.TotalYears >= 1:
		score += 10
	}

	if edu.Degree != "Unknown" && edu.Degree != "" {
		score += 20
	} else if edu.University != "Unknown" && edu.University != "" {
		score += 10
	}

	if exp.CurrentRole != "" {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

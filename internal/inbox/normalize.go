package inbox

import (
	"regexp"
	"strings"
)

// Normalized is the cleaned form of a message used by extraction.
type Normalized struct {
	Subject string // trimmed subject, case preserved
	Body    string // lowercased body with quoted replies removed
	Text    string // same as Body but case preserved
	IsReply bool
}

var (
	replyMarker = regexp.MustCompile(`(?i)^\s*re\s*(\[\d+\])?\s*:`)

	// A quoted reply chain starts at any of these lines; everything after is dropped.
	quoteBoundaries = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}$`),
		regexp.MustCompile(`(?i)^on\s.+\swrote:$`),
		regexp.MustCompile(`^_{10,}$`),
		regexp.MustCompile(`(?i)^-{2,}\s*forwarded message\s*-{2,}$`),
	}
)

// Normalize trims the subject, detects reply markers, and strips quoted text
// from the body. It never fails; empty input yields an empty result.
func Normalize(subject, body string) Normalized {
	n := Normalized{
		Subject: strings.TrimSpace(subject),
		IsReply: replyMarker.MatchString(subject),
	}

	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\u00a0", " ")

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if isQuoteBoundary(trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t"))
	}

	n.Text = strings.TrimSpace(strings.Join(kept, "\n"))
	n.Body = strings.ToLower(n.Text)
	return n
}

func isQuoteBoundary(line string) bool {
	for _, re := range quoteBoundaries {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Lines returns the non-empty trimmed lines of the case-preserved body.
func (n Normalized) Lines() []string {
	var lines []string
	for _, line := range strings.Split(n.Text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

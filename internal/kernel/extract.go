package kernel

import (
	"regexp"
	"strings"
	"time"
)

// Heuristic slot extraction for the rule planner. The model planner fills
// arguments itself; these only have to be good enough that common phrasings
// in English and Chinese produce a runnable call instead of a clarification.

var (
	uuidRe  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	dateRe  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	fileRe  = regexp.MustCompile(`\S+\.(?:md|txt|json|csv)\b`)
	quoteRe = regexp.MustCompile(`"([^"]+)"|“([^”]+)”|「([^」]+)」|『([^』]+)』|'([^']+)'`)
)

// relativeDates maps relative-day tokens to day offsets. Matching is
// case-insensitive for the English forms.
var relativeDates = map[string]int{
	"today":     0,
	"tomorrow":  1,
	"yesterday": -1,
	"今天":        0,
	"今日":        0,
	"明天":        1,
	"昨天":        -1,
}

// relativeDateTokens lists the same tokens in a fixed scan order so that
// extraction from a request naming several days is deterministic: the one
// appearing earliest in the text wins.
var relativeDateTokens = []string{
	"today", "tomorrow", "yesterday", "今天", "今日", "明天", "昨天",
}

// extractQuoted returns the first quoted span in s, honoring ASCII, CJK
// full-width, and corner-bracket quotes.
func extractQuoted(s string) string {
	m := quoteRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	for _, group := range m[1:] {
		if group != "" {
			return group
		}
	}
	return ""
}

// extractRecordRef finds something usable as a record reference: a UUID, an
// explicit filename, a relative-day token, or an explicit date. Returned
// verbatim; resolution happens at execution time.
func extractRecordRef(s string) string {
	if m := uuidRe.FindString(s); m != "" {
		return m
	}
	if m := fileRe.FindString(s); m != "" {
		return m
	}
	lowered := strings.ToLower(s)
	best, bestIdx := "", -1
	for _, tok := range relativeDateTokens {
		if idx := strings.Index(lowered, tok); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = tok, idx
		}
	}
	if best != "" {
		return best
	}
	if m := dateRe.FindString(s); m != "" {
		return m
	}
	if q := extractQuoted(s); q != "" {
		return q
	}
	return ""
}

// resolveRelativeDate turns a relative-day token into a concrete date, or
// returns ref unchanged when it is not one.
func resolveRelativeDate(ref string, now time.Time) (string, bool) {
	offset, ok := relativeDates[strings.ToLower(strings.TrimSpace(ref))]
	if !ok {
		return ref, false
	}
	return now.AddDate(0, 0, offset).Format("2006-01-02"), true
}

// extractAfterKeyword returns the text following the first occurrence of any
// keyword, trimmed of punctuation. Used to pull task and skill names out of
// phrasings like "run task backup" or "运行任务 备份".
func extractAfterKeyword(s string, keywords ...string) string {
	lowered := strings.ToLower(s)
	for _, kw := range keywords {
		idx := strings.Index(lowered, strings.ToLower(kw))
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(s[idx+len(kw):])
		rest = strings.Trim(rest, ",，。.!！?？:：")
		if rest != "" {
			return rest
		}
	}
	return ""
}

// contentQuoteTrim strips the sides of content that were only quoting noise.
func contentQuoteTrim(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"“”「」『』'`)
}

// defaultFilename derives a record filename from content: the first line,
// shortened, with a date-stamped fallback when the content gives nothing
// usable.
func defaultFilename(content string, now time.Time) string {
	line := content
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	line = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return ' '
		}
		return r
	}, line)
	line = strings.Join(strings.Fields(line), " ")
	line = truncateRunes(line, 24)
	if line == "" {
		return "Note " + now.Format("2006-01-02 150405") + ".md"
	}
	return line + ".md"
}

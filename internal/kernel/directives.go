package kernel

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/kioku/internal/model"
)

// In-band directives the user can embed in a request. The confirmation
// marker redeems a pending high-risk plan; the merge marker overrides the
// conflict-resolution strategy for this request's memory write.
var (
	confirmMarkerRe = regexp.MustCompile(`(?i)#(?:CONFIRM|确认)\s*[:：]\s*([A-Za-z0-9]{6,64})`)
	mergeMarkerRe   = regexp.MustCompile(`(?i)#(?:MERGE|合并)\s*[:：]\s*(overwrite|keep|versioned|覆盖|保留|版本)`)
)

// parseConfirmMarker extracts a confirmation token from the request, if any.
// Tokens are matched case-insensitively and returned uppercased, which is
// how the store keys them.
func parseConfirmMarker(request string) (token string, ok bool) {
	m := confirmMarkerRe.FindStringSubmatch(request)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

// parseMergeMarker extracts a merge-strategy directive from the request.
func parseMergeMarker(request string) (model.MergeStrategy, bool) {
	m := mergeMarkerRe.FindStringSubmatch(request)
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "overwrite", "覆盖":
		return model.MergeOverwrite, true
	case "keep", "保留":
		return model.MergeKeep, true
	default:
		return model.MergeVersioned, true
	}
}

// stripDirectives removes all directive markers and collapses the result.
// Planning and lexical scoring operate on the stripped text only.
func stripDirectives(request string) string {
	out := confirmMarkerRe.ReplaceAllString(request, " ")
	out = mergeMarkerRe.ReplaceAllString(out, " ")
	return strings.Join(strings.Fields(out), " ")
}

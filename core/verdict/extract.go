package verdict

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
)

const fence = "```"

// space matches the whitespace that may surround an object inside a fence.
// It covers the Unicode separators and the byte order mark, which RE2's \s
// leaves out.
const space = `[\s\v\p{Z}\x{FEFF}]*`

// candidate is one step of the extraction search. Candidates are tried in
// order and the first one whose match passes accept wins.
type candidate struct {
	name    string
	pattern *regexp.Regexp
	accept  func(fields map[string]any) bool
}

// Group 1 of every pattern captures the object text. Matching is leftmost
// first with the shortest inner span, so with several brace-delimited
// substrings the earliest one wins and nested objects may be cut short
// (which then fails to parse and falls through to the next candidate).
var candidates = []candidate{
	{
		name:    "json fence",
		pattern: regexp.MustCompile(`(?i)` + fence + `json` + space + `(\{[\s\S]*?\})` + space + fence),
		accept:  hasVerdictFields,
	},
	{
		name:    "bare fence",
		pattern: regexp.MustCompile(fence + space + `(\{[\s\S]*?\})` + space + fence),
		accept:  hasVerdictFields,
	},
	{
		name:    "verdict object",
		pattern: regexp.MustCompile(`(?i)(\{[\s\S]*?"verdict"[\s\S]*?\})`),
		accept:  hasVerdictFields,
	},
	{
		name:    "any object",
		pattern: regexp.MustCompile(`(\{[\s\S]*?\})`),
		accept:  hasVerdictFields,
	},
}

var verdictKeys = [...]string{"verdict", "rating", "explanation"}

// Extract looks for a JSON verdict object embedded in text and separates it
// from the surrounding prose. It never fails: text without a usable object
// comes back with HasJSON false and RemainingText equal to the input.
func Extract(text string) ExtractionResult {
	res, _ := ExtractName(text)
	return res
}

// ExtractName is like Extract but also reports which candidate matched, or
// an empty string when none did.
func ExtractName(text string) (ExtractionResult, string) {
	res := ExtractionResult{
		RemainingText: text,
		RawText:       text,
	}
	if text == "" {
		return res, ""
	}

	for _, c := range candidates {
		loc := c.pattern.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		fields, ok := decodeObject(trim(text[loc[2]:loc[3]]))
		if !ok || !c.accept(fields) {
			continue
		}
		parsed := fromFields(fields)
		res.HasJSON = true
		res.JSONData = &parsed
		res.RemainingText = trim(text[:loc[0]] + text[loc[1]:])
		return res, c.name
	}
	return res, ""
}

func decodeObject(s string) (map[string]any, bool) {
	if !gjson.Valid(s) {
		return nil, false
	}
	r := gjson.Parse(s)
	if !r.IsObject() {
		return nil, false
	}
	fields, ok := r.Value().(map[string]any)
	return fields, ok
}

// hasVerdictFields requires at least one recognised key with a non-zero
// value: empty strings, 0, false and null do not count.
func hasVerdictFields(fields map[string]any) bool {
	for _, k := range verdictKeys {
		if truthy(fields[k]) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	}
	return true
}

func isSpace(r rune) bool {
	return r == '\uFEFF' || (unicode.IsSpace(r) && r != '\u0085')
}

// trim strips the same characters as space from both ends of s.
func trim(s string) string {
	return strings.TrimFunc(s, isSpace)
}

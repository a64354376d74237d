package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"verdictbot/core/verdict"
)

func verdictEmoji(v verdict.Verdict) string {
	switch verdict.Verdict(strings.ToUpper(string(v))) {
	case verdict.Smash:
		return "🔥"
	case verdict.Pass:
		return "🚫"
	}
	return "🤔"
}

// FormatJudgement renders j as markdown. When the reply had no JSON payload
// the raw model text is shown as is. Output longer than maxLen runes is cut
// and suffixed with "..."; maxLen <= 0 disables the limit.
func FormatJudgement(j Judgement, maxLen int) string {
	var sb strings.Builder
	r := j.Result

	if r.HasJSON && r.JSONData != nil {
		v := r.JSONData
		if v.Verdict != "" {
			fmt.Fprintf(&sb, "%s **%s**", verdictEmoji(v.Verdict), strings.ToUpper(string(v.Verdict)))
		} else {
			sb.WriteString(verdictEmoji(""))
		}
		if score, ok := v.Score(); ok {
			fmt.Fprintf(&sb, " (%s/10)", strconv.FormatFloat(score, 'f', -1, 64))
		}
		sb.WriteString("\n")
		if v.Explanation != "" {
			sb.WriteString("\n" + v.Explanation + "\n")
		}
		if r.RemainingText != "" {
			sb.WriteString("\n" + r.RemainingText + "\n")
		}
	} else {
		sb.WriteString(strings.TrimSpace(r.RawText))
	}

	return truncate(strings.TrimSpace(sb.String()), maxLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

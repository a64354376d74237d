// Package verdict recovers structured verdicts from free-form model output.
package verdict

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Verdict is the model's accept/reject judgement.
type Verdict string

const (
	Smash Verdict = "SMASH"
	Pass  Verdict = "PASS"
)

// Known reports whether v is one of the recognised verdicts, ignoring case.
func (v Verdict) Known() bool {
	switch Verdict(strings.ToUpper(string(v))) {
	case Smash, Pass:
		return true
	}
	return false
}

// ParsedVerdict is the JSON payload found in a model response.
type ParsedVerdict struct {
	Verdict     Verdict
	Rating      any // number as sent by the model; may be a numeric string
	Explanation string

	// Fields holds the whole decoded object, including keys the extractor
	// does not interpret.
	Fields map[string]any
}

// Score returns the rating as a number.
func (p *ParsedVerdict) Score() (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch r := p.Rating.(type) {
	case float64:
		return r, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MarshalJSON encodes the decoded object so unknown keys survive a round
// trip through the bot's favorites file.
func (p ParsedVerdict) MarshalJSON() ([]byte, error) {
	if p.Fields != nil {
		return json.Marshal(p.Fields)
	}
	out := make(map[string]any, 3)
	if p.Verdict != "" {
		out["verdict"] = p.Verdict
	}
	if p.Rating != nil {
		out["rating"] = p.Rating
	}
	if p.Explanation != "" {
		out["explanation"] = p.Explanation
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *ParsedVerdict) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = fromFields(fields)
	return nil
}

func fromFields(fields map[string]any) ParsedVerdict {
	p := ParsedVerdict{Fields: fields}
	if v, ok := fields["verdict"].(string); ok {
		p.Verdict = Verdict(v)
	}
	if r, ok := fields["rating"]; ok {
		p.Rating = r
	}
	if e, ok := fields["explanation"].(string); ok {
		p.Explanation = e
	}
	return p
}

// ExtractionResult is the outcome of Extract.
type ExtractionResult struct {
	HasJSON       bool           `json:"hasJson"`
	JSONData      *ParsedVerdict `json:"jsonData"`
	RemainingText string         `json:"remainingText"`
	RawText       string         `json:"rawText"`
}

// Summary renders a short one-line form like "SMASH 8/10".
// It returns an empty string when no payload was found.
func (r ExtractionResult) Summary() string {
	if !r.HasJSON || r.JSONData == nil {
		return ""
	}
	var parts []string
	if r.JSONData.Verdict != "" {
		parts = append(parts, strings.ToUpper(string(r.JSONData.Verdict)))
	}
	if score, ok := r.JSONData.Score(); ok {
		parts = append(parts, strconv.FormatFloat(score, 'f', -1, 64)+"/10")
	}
	if len(parts) == 0 {
		return "(no verdict)"
	}
	return strings.Join(parts, " ")
}

// String implements fmt.Stringer for log output.
func (r ExtractionResult) String() string {
	if !r.HasJSON {
		return fmt.Sprintf("no json (%d bytes)", len(r.RawText))
	}
	return r.Summary()
}

// Package prompt holds the system instructions for each judging mode.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how much the model writes around its verdict.
type Mode string

const (
	Concise  Mode = "concise"
	Detailed Mode = "detailed"
	Novel    Mode = "novel"
	Custom   Mode = "custom"
)

// Modes lists every mode in display order.
var Modes = []Mode{Concise, Detailed, Novel, Custom}

var (
	ErrUnknownMode   = errors.New("unknown mode")
	ErrMissingCustom = errors.New("custom mode needs a prompt")
)

const jsonContract = `Always include a JSON object in a ` + "```json" + ` code block with exactly these keys:
- "verdict": either "SMASH" or "PASS"
- "rating": a number from 1 to 10
- "explanation": your reasoning`

var instructions = map[Mode]string{
	Concise: `You are a blunt judge of whatever is shown in the image: a person, an object, a place, food or anything else.
Decide whether it is a SMASH (you like it) or a PASS (you don't).
Keep the explanation to one or two punchy sentences.

` + jsonContract,

	Detailed: `You are a thoughtful critic judging whatever is shown in the image.
Decide whether it is a SMASH or a PASS. Walk through what stands out: composition, style, quality and overall appeal.
Write three to five sentences in the explanation and add any extra commentary after the JSON block.

` + jsonContract,

	Novel: `You are a storyteller who judges whatever is shown in the image.
Decide whether it is a SMASH or a PASS, then write a short, vivid story (at least two paragraphs) about it after the JSON block.
The explanation should summarise the verdict in one sentence.

` + jsonContract,
}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w %q (want one of %s)", ErrUnknownMode, s, List())
}

// List returns the mode names joined for help text.
func List() string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// SystemInstruction returns the instruction for mode. custom is used only
// by Custom mode; the JSON contract is appended to it so the reply stays
// machine-readable.
func SystemInstruction(mode Mode, custom string) (string, error) {
	if mode == Custom {
		custom = strings.TrimSpace(custom)
		if custom == "" {
			return "", ErrMissingCustom
		}
		return custom + "\n\n" + jsonContract, nil
	}
	s, ok := instructions[mode]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
	return s, nil
}

// UserPrompt is the text part sent alongside the image.
func UserPrompt(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return "Smash or pass?"
	}
	return caption
}

package verdict

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractResult(t *testing.T) {
	cases := map[string]struct {
		in   string
		want ExtractionResult
	}{
		"fenced with prose on both sides": {
			in: "Here you go:\n```json\n{\"verdict\": \"PASS\", \"rating\": 4, \"explanation\": \"Too busy.\"}\n```\nThanks!",
			want: ExtractionResult{
				HasJSON: true,
				JSONData: &ParsedVerdict{
					Verdict:     Pass,
					Rating:      float64(4),
					Explanation: "Too busy.",
					Fields: map[string]any{
						"verdict":     "PASS",
						"rating":      float64(4),
						"explanation": "Too busy.",
					},
				},
				RemainingText: "Here you go:\n\nThanks!",
				RawText:       "Here you go:\n```json\n{\"verdict\": \"PASS\", \"rating\": 4, \"explanation\": \"Too busy.\"}\n```\nThanks!",
			},
		},
		"object without verdict keys": {
			in: `{"mood": "happy"}`,
			want: ExtractionResult{
				RemainingText: `{"mood": "happy"}`,
				RawText:       `{"mood": "happy"}`,
			},
		},
		"empty": {
			in:   "",
			want: ExtractionResult{},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Extract(tc.in)); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

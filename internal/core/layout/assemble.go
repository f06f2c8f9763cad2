package layout

import (
	"strings"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// Assemble builds the final text and mean confidence from line fragments.
// Fragments carrying geometry are reconstructed spatially; the rest are
// appended as plain lines in engine order. Confidence is the arithmetic mean
// over every fragment, 0 for none.
func Assemble(fragments []domain.Fragment) (string, float64) {
	if len(fragments) == 0 {
		return "", 0
	}

	var sum float64
	loose := make([]string, 0)
	for _, f := range fragments {
		sum += f.Confidence
		if f.Box == nil {
			loose = append(loose, f.Text)
		}
	}
	confidence := sum / float64(len(fragments))

	parts := make([]string, 0, 2)
	if text := Reconstruct(fragments); text != "" {
		parts = append(parts, text)
	}
	if len(loose) > 0 {
		parts = append(parts, strings.Join(loose, "\n"))
	}
	return strings.Join(parts, "\n"), confidence
}

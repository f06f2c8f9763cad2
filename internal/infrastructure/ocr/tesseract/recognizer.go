package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
	_ "golang.org/x/image/tiff"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// Recognizer runs Tesseract line segmentation and reports every text line
// with its confidence and a page-normalized bounding box.
type Recognizer struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

func NewRecognizer(languages ...string) *Recognizer {
	return &Recognizer{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

func (r *Recognizer) Recognize(ctx context.Context, data []byte) ([]domain.Fragment, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := r.clientFactory()
	defer c.Close()

	if len(r.languages) > 0 {
		if err := c.SetLanguage(r.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize lines: %w", err)
	}
	return toFragments(boxes, cfg.Width, cfg.Height), nil
}

func toFragments(boxes []gosseract.BoundingBox, width, height int) []domain.Fragment {
	out := make([]domain.Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		f := domain.Fragment{Text: text, Confidence: b.Confidence}
		if width > 0 && height > 0 {
			f.Box = &domain.BoundingBox{
				Left:   float64(b.Box.Min.X) / float64(width),
				Top:    float64(b.Box.Min.Y) / float64(height),
				Width:  float64(b.Box.Dx()) / float64(width),
				Height: float64(b.Box.Dy()) / float64(height),
			}
		}
		out = append(out, f)
	}
	return out
}

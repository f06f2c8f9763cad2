// Package layout turns OCR line fragments back into reading-order text.
//
// Score sheets are tabular: a physical row holds several fragments (move
// number, white move, black move) whose tops differ slightly because the paper
// is rarely perfectly horizontal. Fragments are therefore grouped into rows by
// vertical proximity first and ordered left to right within each row.
package layout

import (
	"sort"
	"strings"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

// rowGapFactor is the fraction of the mean fragment height below which two
// consecutive fragments are considered part of the same row.
const rowGapFactor = 0.5

// Reconstruct orders fragments into lines. Fragments without a bounding box
// are ignored; use Assemble for mixed input.
func Reconstruct(fragments []domain.Fragment) string {
	placed := make([]domain.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.Box != nil {
			placed = append(placed, f)
		}
	}

	switch len(placed) {
	case 0:
		return ""
	case 1:
		return placed[0].Text
	}

	sort.SliceStable(placed, func(i, j int) bool {
		return placed[i].Box.Top < placed[j].Box.Top
	})

	rows := groupRows(placed)
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Box.Left < row[j].Box.Left
		})
		texts := make([]string, 0, len(row))
		for _, f := range row {
			texts = append(texts, f.Text)
		}
		lines = append(lines, strings.Join(texts, " "))
	}
	return strings.Join(lines, "\n")
}

// groupRows expects fragments sorted by top.
func groupRows(sorted []domain.Fragment) [][]domain.Fragment {
	rows := [][]domain.Fragment{{sorted[0]}}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].Box, sorted[i].Box
		gap := cur.Top - prev.Top
		threshold := (prev.Height + cur.Height) / 2 * rowGapFactor
		if gap < threshold {
			rows[len(rows)-1] = append(rows[len(rows)-1], sorted[i])
			continue
		}
		rows = append(rows, []domain.Fragment{sorted[i]})
	}
	return rows
}

// Package detect wraps the person-detection model behind a batched,
// black-box interface.
package detect

import (
	"context"
	"sort"

	"github.com/framelens/personcrop/internal/models"
)

// Detector returns one Detection per input frame, in input order. A
// batch call is pure: no state is carried across calls other than the
// loaded model itself.
type Detector interface {
	Detect(ctx context.Context, info models.VideoInfo, frames []*models.Frame) ([]models.Detection, error)
}

// Params filters raw model output before it reaches the pipeline.
type Params struct {
	ConfThreshold float64 // boxes below this score are dropped
	IoUThreshold  float64 // greedy overlap suppression
}

// Filter drops boxes below the confidence threshold and suppresses
// overlapping boxes greedily by descending score. The input slice is
// not modified.
func Filter(boxes []models.Box, p Params) []models.Box {
	kept := make([]models.Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Score >= p.ConfThreshold && b.Width() > 0 && b.Height() > 0 {
			kept = append(kept, b)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	out := kept[:0]
	for _, cand := range kept {
		suppressed := false
		for _, sel := range out {
			if sel.IoU(cand) > p.IoUThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			out = append(out, cand)
		}
	}
	return append([]models.Box(nil), out...)
}

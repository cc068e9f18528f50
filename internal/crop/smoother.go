// Package crop derives a temporally stable crop window from noisy
// per-frame person detections.
package crop

import (
	"github.com/framelens/personcrop/internal/models"
)

// Params tunes the smoother. Zero values are not usable; call
// DefaultParams or fill every field.
type Params struct {
	PaddingRatio float64 // padding around the union-of-people box, per side, relative to box size
	MinCropRatio float64 // minimum window size per dimension relative to the frame
	Alpha        float64 // EMA factor; closer to 1 favors stability
	KeepAspect   bool    // lock window aspect to the source frame
}

// DefaultParams mirrors the service defaults.
func DefaultParams() Params {
	return Params{
		PaddingRatio: 0.12,
		MinCropRatio: 0.35,
		Alpha:        0.85,
		KeepAspect:   true,
	}
}

// Smoother turns a detection stream into one crop window per frame.
//
// It is strictly sequential: each emitted window blends against the
// previous one, so frames must be fed in increasing order and never
// concurrently. State is scoped to a single job; build a fresh Smoother
// per video.
type Smoother struct {
	params Params
	width  float64
	height float64

	prevRaw     *models.CropWindow // last raw target, carried through detection gaps
	prevEmitted *models.CropWindow
}

// NewSmoother creates a smoother for a video of the given frame size.
func NewSmoother(params Params, frameWidth, frameHeight int) *Smoother {
	return &Smoother{
		params: params,
		width:  float64(frameWidth),
		height: float64(frameHeight),
	}
}

// Next consumes the detections for the next frame and returns the
// emitted window for it. The window is always inside the frame and at
// least MinCropRatio of each frame dimension.
func (s *Smoother) Next(det models.Detection) models.CropWindow {
	raw := s.rawTarget(det)
	s.prevRaw = &raw

	target := s.enforceMinSize(raw)
	if s.params.KeepAspect {
		target = s.lockAspect(target)
	}
	target = s.clampPreservingSize(target)

	var emitted models.CropWindow
	if s.prevEmitted == nil {
		emitted = target
	} else {
		emitted = blend(s.params.Alpha, *s.prevEmitted, target)
	}
	emitted = s.clampPreservingSize(emitted)
	s.prevEmitted = &emitted
	return emitted
}

// rawTarget builds the padded union box for the frame's detections.
// With no detections the previous raw target is carried forward
// indefinitely; before any detection has been seen the fallback is a
// frame-centered minimum-size window.
func (s *Smoother) rawTarget(det models.Detection) models.CropWindow {
	union, ok := det.Union()
	if !ok {
		if s.prevRaw != nil {
			return *s.prevRaw
		}
		w := s.params.MinCropRatio * s.width
		h := s.params.MinCropRatio * s.height
		return models.CropWindow{X: (s.width - w) / 2, Y: (s.height - h) / 2, W: w, H: h}
	}

	padX := s.params.PaddingRatio * union.Width()
	padY := s.params.PaddingRatio * union.Height()
	win := models.CropWindow{
		X: union.X1 - padX,
		Y: union.Y1 - padY,
		W: union.Width() + 2*padX,
		H: union.Height() + 2*padY,
	}
	return intersectFrame(win, s.width, s.height)
}

// enforceMinSize grows each dimension symmetrically around the center
// up to the minimum crop size.
func (s *Smoother) enforceMinSize(win models.CropWindow) models.CropWindow {
	minW := s.params.MinCropRatio * s.width
	minH := s.params.MinCropRatio * s.height
	cx, cy := win.CenterX(), win.CenterY()
	if win.W < minW {
		win.W = minW
		win.X = cx - minW/2
	}
	if win.H < minH {
		win.H = minH
		win.Y = cy - minH/2
	}
	return win
}

// lockAspect expands the shorter dimension symmetrically so the window
// matches the source aspect ratio. It only ever grows the window.
func (s *Smoother) lockAspect(win models.CropWindow) models.CropWindow {
	aspect := s.width / s.height
	if win.H <= 0 || win.W <= 0 {
		return win
	}
	cx, cy := win.CenterX(), win.CenterY()
	if win.W/win.H > aspect {
		// Too wide: grow height.
		newH := win.W / aspect
		win.H = newH
		win.Y = cy - newH/2
	} else {
		// Too tall: grow width.
		newW := win.H * aspect
		win.W = newW
		win.X = cx - newW/2
	}
	return win
}

// clampPreservingSize keeps the window inside the frame. Size wins over
// centering: the window is shifted, and only shrunk when it exceeds the
// frame itself.
func (s *Smoother) clampPreservingSize(win models.CropWindow) models.CropWindow {
	if win.W > s.width {
		win.W = s.width
	}
	if win.H > s.height {
		win.H = s.height
	}
	if win.X < 0 {
		win.X = 0
	}
	if win.X+win.W > s.width {
		win.X = s.width - win.W
	}
	if win.Y < 0 {
		win.Y = 0
	}
	if win.Y+win.H > s.height {
		win.Y = s.height - win.H
	}
	return win
}

// intersectFrame cuts the window down to the frame extents.
func intersectFrame(win models.CropWindow, w, h float64) models.CropWindow {
	x1 := clampf(win.X, 0, w)
	y1 := clampf(win.Y, 0, h)
	x2 := clampf(win.X+win.W, 0, w)
	y2 := clampf(win.Y+win.H, 0, h)
	return models.CropWindow{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// blend applies the EMA independently to center and size. alpha weighs
// the previous emitted window.
func blend(alpha float64, prev, target models.CropWindow) models.CropWindow {
	cx := alpha*prev.CenterX() + (1-alpha)*target.CenterX()
	cy := alpha*prev.CenterY() + (1-alpha)*target.CenterY()
	w := alpha*prev.W + (1-alpha)*target.W
	h := alpha*prev.H + (1-alpha)*target.H
	return models.CropWindow{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

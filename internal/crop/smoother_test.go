package crop

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framelens/personcrop/internal/models"
)

const (
	frameW = 1920
	frameH = 1080
)

func detAt(x1, y1, x2, y2 float64) models.Detection {
	return models.Detection{Boxes: []models.Box{{X1: x1, Y1: y1, X2: x2, Y2: y2, Score: 0.9}}}
}

func TestSmootherFirstFrameEqualsTarget(t *testing.T) {
	s := NewSmoother(DefaultParams(), frameW, frameH)
	win := s.Next(detAt(800, 400, 1100, 900))

	// First frame has no prior state: the emitted window is the target
	// itself, so feeding the same detection again must not move it.
	next := s.Next(detAt(800, 400, 1100, 900))
	assert.InDelta(t, win.X, next.X, 1e-9)
	assert.InDelta(t, win.Y, next.Y, 1e-9)
	assert.InDelta(t, win.W, next.W, 1e-9)
	assert.InDelta(t, win.H, next.H, 1e-9)
}

func TestSmootherConvergesToConstantTarget(t *testing.T) {
	s := NewSmoother(DefaultParams(), frameW, frameH)

	// Start somewhere else, then hold a constant detection.
	s.Next(detAt(0, 0, 400, 400))
	var last models.CropWindow
	for i := 0; i < 500; i++ {
		last = s.Next(detAt(1200, 500, 1600, 1000))
	}
	settled := s.Next(detAt(1200, 500, 1600, 1000))

	assert.InDelta(t, last.CenterX(), settled.CenterX(), 1e-6)
	assert.InDelta(t, last.CenterY(), settled.CenterY(), 1e-6)
	assert.InDelta(t, last.W, settled.W, 1e-6)
	assert.InDelta(t, last.H, settled.H, 1e-6)
}

func TestSmootherWindowAlwaysInBoundsAndMinSized(t *testing.T) {
	params := DefaultParams()
	seqs := map[string][]models.Detection{
		"all empty": make([]models.Detection, 50),
		"flicker": {
			detAt(10, 10, 60, 120),
			{}, {}, {},
			detAt(1800, 900, 1910, 1070),
			{}, {},
			detAt(900, 10, 1000, 200),
		},
		"tiny boxes": {
			detAt(0, 0, 4, 4),
			detAt(1915, 1075, 1919, 1079),
			detAt(960, 540, 961, 541),
		},
		"full frame": {
			detAt(0, 0, frameW, frameH),
			detAt(0, 0, frameW, frameH),
		},
	}

	for name, seq := range seqs {
		t.Run(name, func(t *testing.T) {
			s := NewSmoother(params, frameW, frameH)
			for i, det := range seq {
				win := s.Next(det)
				assert.GreaterOrEqual(t, win.X, 0.0, "frame %d", i)
				assert.GreaterOrEqual(t, win.Y, 0.0, "frame %d", i)
				assert.LessOrEqual(t, win.X+win.W, float64(frameW)+1e-9, "frame %d", i)
				assert.LessOrEqual(t, win.Y+win.H, float64(frameH)+1e-9, "frame %d", i)
				assert.GreaterOrEqual(t, win.W, params.MinCropRatio*frameW-1e-9, "frame %d", i)
				assert.GreaterOrEqual(t, win.H, params.MinCropRatio*frameH-1e-9, "frame %d", i)
			}
		})
	}
}

func TestSmootherAspectLock(t *testing.T) {
	params := DefaultParams()
	params.KeepAspect = true
	s := NewSmoother(params, frameW, frameH)

	aspect := float64(frameW) / float64(frameH)
	dets := []models.Detection{
		detAt(100, 100, 200, 900), // tall box
		detAt(100, 500, 1800, 700), // wide box
		{},
		detAt(950, 500, 1000, 600),
	}
	for i, det := range dets {
		win := s.Next(det)
		require.Greater(t, win.H, 0.0)
		assert.InDelta(t, aspect, win.W/win.H, 1e-6, "frame %d", i)
	}
}

func TestSmootherEmptyStreamUsesCenteredFallback(t *testing.T) {
	params := DefaultParams()
	s := NewSmoother(params, frameW, frameH)

	win := s.Next(models.Detection{})
	assert.InDelta(t, frameW/2, win.CenterX(), 1e-9)
	assert.InDelta(t, frameH/2, win.CenterY(), 1e-9)
	assert.InDelta(t, params.MinCropRatio*frameW, win.W, 1e-9)
	assert.InDelta(t, params.MinCropRatio*frameH, win.H, 1e-9)
}

func TestSmootherCarriesTargetThroughGaps(t *testing.T) {
	params := DefaultParams()
	params.Alpha = 0 // no smoothing: emitted == target, exposes carry-forward directly
	s := NewSmoother(params, frameW, frameH)

	withDet := s.Next(detAt(1200, 400, 1700, 1000))
	for i := 0; i < 10; i++ {
		gap := s.Next(models.Detection{})
		assert.InDelta(t, withDet.X, gap.X, 1e-9, "gap frame %d", i)
		assert.InDelta(t, withDet.Y, gap.Y, 1e-9, "gap frame %d", i)
		assert.InDelta(t, withDet.W, gap.W, 1e-9, "gap frame %d", i)
		assert.InDelta(t, withDet.H, gap.H, 1e-9, "gap frame %d", i)
	}
}

func TestSmootherSmoothingDampsJumps(t *testing.T) {
	s := NewSmoother(DefaultParams(), frameW, frameH)

	left := s.Next(detAt(0, 200, 500, 900))
	jumped := s.Next(detAt(1400, 200, 1900, 900))

	// One frame after a hard cut the window must have moved, but only by
	// the (1-alpha) fraction of the distance.
	moved := jumped.CenterX() - left.CenterX()
	assert.Greater(t, moved, 0.0)
	assert.Less(t, moved, 0.25*(frameW))
}

func TestSmootherMultiplePeopleUseUnion(t *testing.T) {
	params := DefaultParams()
	params.Alpha = 0
	params.KeepAspect = false
	s := NewSmoother(params, frameW, frameH)

	det := models.Detection{Boxes: []models.Box{
		{X1: 300, Y1: 300, X2: 500, Y2: 800, Score: 0.9},
		{X1: 1300, Y1: 250, X2: 1500, Y2: 850, Score: 0.8},
	}}
	win := s.Next(det)

	// Both people must be inside the emitted window.
	assert.LessOrEqual(t, win.X, 300.0)
	assert.GreaterOrEqual(t, win.X+win.W, 1500.0)
	assert.LessOrEqual(t, win.Y, 250.0)
	assert.GreaterOrEqual(t, win.Y+win.H, 850.0)
}

func TestSmootherMinSizePrefersSizeOverCentering(t *testing.T) {
	params := DefaultParams()
	params.Alpha = 0
	s := NewSmoother(params, frameW, frameH)

	// A tiny box in the corner: the minimum-size window cannot stay
	// centered on it without leaving the frame.
	win := s.Next(detAt(0, 0, 10, 10))
	assert.GreaterOrEqual(t, win.W, params.MinCropRatio*frameW-1e-9)
	assert.GreaterOrEqual(t, win.H, params.MinCropRatio*frameH-1e-9)
	assert.InDelta(t, 0, win.X, 1e-9)
	assert.InDelta(t, 0, win.Y, 1e-9)
}

func TestSmootherAspectHoldsUnderSmoothing(t *testing.T) {
	s := NewSmoother(DefaultParams(), frameW, frameH)
	aspect := float64(frameW) / float64(frameH)

	// Alternate between very different targets; the blend of two
	// aspect-locked windows must itself stay aspect-locked.
	for i := 0; i < 40; i++ {
		var det models.Detection
		if i%2 == 0 {
			det = detAt(0, 0, 300, 1000)
		} else {
			det = detAt(1500, 100, 1900, 300)
		}
		win := s.Next(det)
		if math.Abs(win.H) > 0 {
			assert.InDelta(t, aspect, win.W/win.H, 1e-6, "frame %d", i)
		}
	}
}

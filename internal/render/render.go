// Package render crops frames to their windows, letterboxes them back
// to a constant output size, and optionally stamps a timecode overlay.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/framelens/personcrop/internal/models"
)

const timestampMarginPx = 12

// Renderer produces output frames at a fixed size so downstream users
// never see varying dimensions mid-stream.
type Renderer struct {
	outWidth      int
	outHeight     int
	fps           float64
	maxUpscale    float64 // crops are never scaled past this factor
	drawTimestamp bool
}

// NewRenderer builds a renderer for one job. Output size and frame rate
// come from the probed source; the crop is letterboxed back to that
// exact size every frame.
func NewRenderer(info models.VideoInfo, drawTimestamp bool) *Renderer {
	return &Renderer{
		outWidth:      info.Width,
		outHeight:     info.Height,
		fps:           info.FPS,
		maxUpscale:    1.0,
		drawTimestamp: drawTimestamp,
	}
}

// OutputInfo describes the stream the renderer emits; encoders size
// themselves from this rather than the probed input.
func (r *Renderer) OutputInfo() models.VideoInfo {
	return models.VideoInfo{
		Width:  r.outWidth,
		Height: r.outHeight,
		FPS:    r.fps,
	}
}

// Render crops the frame to win and returns a packed bgr24 buffer of
// the renderer's output size. The input frame buffer is not modified.
func (r *Renderer) Render(frame *models.Frame, win models.CropWindow) []byte {
	src := NewBGR(frame.Data, r.outWidth, r.outHeight)

	rect := roundRect(win, r.outWidth, r.outHeight)
	cropped := src.SubImage(rect)
	canvas := NewBlackBGR(r.outWidth, r.outHeight)

	cw := rect.Dx()
	ch := rect.Dy()
	if cw > 0 && ch > 0 {
		scale := minf(float64(r.outWidth)/float64(cw), float64(r.outHeight)/float64(ch))
		if r.maxUpscale > 0 && scale > r.maxUpscale {
			scale = r.maxUpscale
		}
		newW := maxi(1, int(float64(cw)*scale))
		newH := maxi(1, int(float64(ch)*scale))
		xOff := (r.outWidth - newW) / 2
		yOff := (r.outHeight - newH) / 2
		dr := image.Rect(xOff, yOff, xOff+newW, yOff+newH)
		xdraw.ApproxBiLinear.Scale(canvas, dr, cropped, rect, xdraw.Src, nil)
	}

	if r.drawTimestamp {
		r.stampTimecode(canvas, frame.Index)
	}
	return canvas.Pix
}

// TimecodeLabel formats a frame index as HH:MM:SS.mmm at the stream's
// frame rate.
func TimecodeLabel(index int, fps float64) string {
	if fps <= 0 {
		fps = 30
	}
	t := float64(index) / fps
	hh := int(t) / 3600
	mm := (int(t) % 3600) / 60
	ss := int(t) % 60
	ms := int((t - float64(int(t))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hh, mm, ss, ms)
}

// stampTimecode draws the timecode on a filled box in the top-right
// corner, matching the source service's overlay.
func (r *Renderer) stampTimecode(canvas *BGR, index int) {
	label := TimecodeLabel(index, r.fps)
	face := basicfont.Face7x13

	width := font.MeasureString(face, label).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	descent := face.Metrics().Descent.Ceil()

	x := maxi(timestampMarginPx, r.outWidth-timestampMarginPx-width)
	y := timestampMarginPx + ascent

	bg := image.Rect(x-6, y-ascent-6, x+width+6, y+descent+6)
	draw.Draw(canvas, bg.Intersect(canvas.Bounds()), image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

// roundRect converts a float window into integer pixel bounds, at least
// one pixel in each dimension and inside the frame.
func roundRect(win models.CropWindow, frameW, frameH int) image.Rectangle {
	x1 := clampi(int(win.X+0.5), 0, frameW-1)
	y1 := clampi(int(win.Y+0.5), 0, frameH-1)
	x2 := clampi(int(win.X+win.W+0.5), x1+1, frameW)
	y2 := clampi(int(win.Y+win.H+0.5), y1+1, frameH)
	return image.Rect(x1, y1, x2, y2)
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

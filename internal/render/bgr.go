package render

import (
	"image"
	"image/color"
)

// BGR wraps a packed bgr24 buffer (the ffmpeg rawvideo pixel format) as
// a draw.Image so the stdlib and x/image can operate on it directly,
// without copying frames into RGBA and back.
type BGR struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// NewBGR wraps an existing bgr24 buffer of the given size.
func NewBGR(pix []byte, width, height int) *BGR {
	return &BGR{Pix: pix, Stride: width * 3, Rect: image.Rect(0, 0, width, height)}
}

// NewBlackBGR allocates a zeroed (black) bgr24 canvas.
func NewBlackBGR(width, height int) *BGR {
	return NewBGR(make([]byte, width*height*3), width, height)
}

func (p *BGR) ColorModel() color.Model { return color.RGBAModel }

func (p *BGR) Bounds() image.Rectangle { return p.Rect }

func (p *BGR) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.pixOffset(x, y)
	return color.RGBA{R: p.Pix[i+2], G: p.Pix[i+1], B: p.Pix[i], A: 0xff}
}

func (p *BGR) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.pixOffset(x, y)
	r, g, b, _ := c.RGBA()
	p.Pix[i] = uint8(b >> 8)
	p.Pix[i+1] = uint8(g >> 8)
	p.Pix[i+2] = uint8(r >> 8)
}

// SubImage returns a view sharing pixels with p, clipped to r.
func (p *BGR) SubImage(r image.Rectangle) *BGR {
	r = r.Intersect(p.Rect)
	if r.Empty() {
		return &BGR{Stride: p.Stride}
	}
	i := p.pixOffset(r.Min.X, r.Min.Y)
	return &BGR{Pix: p.Pix[i:], Stride: p.Stride, Rect: r}
}

func (p *BGR) pixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

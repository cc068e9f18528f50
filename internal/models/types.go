package models

import (
	"time"
)

// JobStatus is the lifecycle state of a crop job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is one submitted video-cropping request and its tracked state.
// A job is created as queued, mutated only by the worker that wins the
// processing lease, and becomes immutable once done or failed.
type Job struct {
	ID        string    `json:"job_id"`
	InputURI  string    `json:"input_uri"`
	OutputURI string    `json:"output_uri,omitempty"` // set only on done
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"` // set only on failed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessPayload is the task body carried through the queue. The queue
// delivers at least once; the job id is all the worker needs, everything
// else lives in the job store.
type ProcessPayload struct {
	JobID string `json:"job_id"`
}

// Box is an axis-aligned bounding box in pixel coordinates with a
// detector confidence score.
type Box struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Score float64 `json:"score"`
}

// Width returns the box width, never negative.
func (b Box) Width() float64 {
	if b.X2 < b.X1 {
		return 0
	}
	return b.X2 - b.X1
}

// Height returns the box height, never negative.
func (b Box) Height() float64 {
	if b.Y2 < b.Y1 {
		return 0
	}
	return b.Y2 - b.Y1
}

// Area returns the box area.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// IoU returns the intersection-over-union overlap between two boxes.
func (b Box) IoU(o Box) float64 {
	ix1 := max64(b.X1, o.X1)
	iy1 := max64(b.Y1, o.Y1)
	ix2 := min64(b.X2, o.X2)
	iy2 := min64(b.Y2, o.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection holds the person boxes found in a single frame. It may be
// empty; the smoother carries its previous target forward in that case.
type Detection struct {
	Boxes []Box `json:"boxes"`
}

// Empty reports whether no person was detected in the frame.
func (d Detection) Empty() bool {
	return len(d.Boxes) == 0
}

// Union returns the bounding box of all detected boxes.
func (d Detection) Union() (Box, bool) {
	if d.Empty() {
		return Box{}, false
	}
	u := d.Boxes[0]
	for _, b := range d.Boxes[1:] {
		u.X1 = min64(u.X1, b.X1)
		u.Y1 = min64(u.Y1, b.Y1)
		u.X2 = max64(u.X2, b.X2)
		u.Y2 = max64(u.Y2, b.Y2)
	}
	u.Score = 0
	return u, true
}

// CropWindow is the rectangle a frame is cropped to. Coordinates are
// floating point; the renderer rounds when slicing pixels.
type CropWindow struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CenterX returns the horizontal center of the window.
func (c CropWindow) CenterX() float64 { return c.X + c.W/2 }

// CenterY returns the vertical center of the window.
func (c CropWindow) CenterY() float64 { return c.Y + c.H/2 }

// Frame is one decoded bgr24 image together with its index and
// presentation timestamp. Exactly one pipeline stage owns a frame at a
// time as it moves from decode to encode.
type Frame struct {
	Index int
	PTS   float64 // seconds from stream start
	Data  []byte  // packed bgr24, len = width*height*3
}

// VideoInfo is the probed shape of the source stream. Width, height and
// frame rate are constant for the whole job.
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int     // 0 when the container doesn't report it
	Duration   float64 // seconds, 0 when unknown
	HasAudio   bool
}

// Aspect returns the source width:height ratio.
func (v VideoInfo) Aspect() float64 {
	if v.Height == 0 {
		return 0
	}
	return float64(v.Width) / float64(v.Height)
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Package pipeline drives frames from decode through detection,
// smoothing, and encode with bounded memory and overlapped stages.
package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/framelens/personcrop/internal/crop"
	"github.com/framelens/personcrop/internal/detect"
	"github.com/framelens/personcrop/internal/models"
)

const (
	// queueBatches bounds the decode stage: at most this many batches
	// of frames are buffered ahead of detection.
	queueBatches = 4

	// progressEvery controls how often frame counts are reported.
	progressEvery = 64
)

// FrameSource produces decoded frames in presentation order. Next
// returns io.EOF after the last frame.
type FrameSource interface {
	Info() models.VideoInfo
	Next() (*models.Frame, error)
	Close() error
}

// FrameSink consumes rendered frames in presentation order. Frames
// arrive with their original index and timestamp and a rendered pixel
// buffer.
type FrameSink interface {
	Write(frame *models.Frame) error
}

// FrameRenderer turns a frame plus its crop window into an output
// pixel buffer.
type FrameRenderer interface {
	Render(frame *models.Frame, win models.CropWindow) []byte
}

// Pipeline wires the three cooperating stages together. One Pipeline
// instance runs one job at a time; the detector behind it is shared
// across jobs but only ever called from the single detect stage.
type Pipeline struct {
	detector   detect.Detector
	cropParams crop.Params
	batchSize  int

	// Progress, when set, is invoked with the running frame count as
	// batches complete.
	Progress func(frames int)
}

// New creates a pipeline. batchSize is the number of frames per
// detector call.
func New(detector detect.Detector, cropParams crop.Params, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 8
	}
	return &Pipeline{
		detector:   detector,
		cropParams: cropParams,
		batchSize:  batchSize,
	}
}

type renderItem struct {
	frame  *models.Frame
	window models.CropWindow
}

// Run processes the whole source through the sink. It returns the
// number of frames written. Any stage error aborts the job; a source
// with zero frames is an input error.
//
// Ordering: frames flow through bounded channels and a single smoother
// fed in strictly increasing frame order, so output order always equals
// input order even though the stages overlap.
func (p *Pipeline) Run(ctx context.Context, src FrameSource, renderer FrameRenderer, sink FrameSink) (int, error) {
	info := src.Info()
	if info.Width <= 0 || info.Height <= 0 {
		return 0, fmt.Errorf("invalid video dimensions: %dx%d", info.Width, info.Height)
	}

	smoother := crop.NewSmoother(p.cropParams, info.Width, info.Height)

	frames := make(chan *models.Frame, p.batchSize*queueBatches)
	rendered := make(chan renderItem, p.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	total := 0

	// Stage 1: decode. Blocks when the frame queue is full so the whole
	// video is never buffered in memory.
	g.Go(func() error {
		defer close(frames)
		for {
			frame, err := src.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("decode failed: %w", err)
			}
			select {
			case frames <- frame:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Stage 2: batch detect + smooth. The smoother is single-owner and
	// fed in frame order; its state carries across batch boundaries.
	g.Go(func() error {
		defer close(rendered)
		batch := make([]*models.Frame, 0, p.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			dets, err := p.detector.Detect(gctx, info, batch)
			if err != nil {
				return fmt.Errorf("detection failed: %w", err)
			}
			if len(dets) != len(batch) {
				return fmt.Errorf("detector returned %d detections for %d frames", len(dets), len(batch))
			}
			for i, frame := range batch {
				win := smoother.Next(dets[i])
				select {
				case rendered <- renderItem{frame: frame, window: win}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			batch = batch[:0]
			return nil
		}

		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					return flush()
				}
				batch = append(batch, frame)
				if len(batch) >= p.batchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Stage 3: render + encode. Overlaps with detection of the next
	// batch.
	g.Go(func() error {
		lastLogged := 0
		for {
			select {
			case item, ok := <-rendered:
				if !ok {
					return nil
				}
				out := renderer.Render(item.frame, item.window)
				item.frame.Data = out
				if err := sink.Write(item.frame); err != nil {
					return fmt.Errorf("encode failed: %w", err)
				}
				total++
				if total-lastLogged >= progressEvery {
					lastLogged = total
					logrus.WithField("frames", total).Info("processed frames")
					if p.Progress != nil {
						p.Progress(total)
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return total, err
	}
	if total == 0 {
		return 0, fmt.Errorf("no frames decoded from source")
	}
	if p.Progress != nil {
		p.Progress(total)
	}
	return total, nil
}

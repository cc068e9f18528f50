// Package worker runs one crop job end to end: fetch, decode, detect,
// smooth, render, encode, upload, and record the terminal state.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/blob"
	"github.com/framelens/personcrop/internal/crop"
	"github.com/framelens/personcrop/internal/detect"
	"github.com/framelens/personcrop/internal/lifecycle"
	"github.com/framelens/personcrop/internal/models"
	"github.com/framelens/personcrop/internal/pipeline"
	"github.com/framelens/personcrop/internal/render"
)

// Sink is a frame sink that only commits its output on Finalize.
type Sink interface {
	pipeline.FrameSink
	Finalize() error
	Abort()
}

// Media opens decode sources and encode sinks for local files. The
// ffmpeg layer implements it in production.
type Media interface {
	OpenSource(path string) (pipeline.FrameSource, error)
	OpenSink(srcPath, outPath string, info models.VideoInfo) (Sink, error)
}

// Blobs moves files between object storage and the scratch directory.
type Blobs interface {
	Download(ctx context.Context, uri, destPath string) error
	Upload(ctx context.Context, srcPath, uri string) error
}

// Config carries the per-deployment processing knobs.
type Config struct {
	OutputBucket  string
	TempDir       string
	BatchSize     int
	CropParams    crop.Params
	DrawTimestamp bool
}

// Processor is the worker's job handler. Any failure after lease
// acquisition is recorded on the job itself; the submitter polls the
// status endpoint rather than the queue.
type Processor struct {
	manager  *lifecycle.Manager
	detector detect.Detector
	media    Media
	blobs    Blobs
	config   Config
}

// NewProcessor wires the job handler.
func NewProcessor(manager *lifecycle.Manager, detector detect.Detector, media Media, blobs Blobs, config Config) *Processor {
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	return &Processor{
		manager:  manager,
		detector: detector,
		media:    media,
		blobs:    blobs,
		config:   config,
	}
}

// Process handles one queue delivery. A delivery for a job that is
// already active or terminal is a no-op success, which is what makes
// at-least-once delivery safe.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	acquired, err := p.manager.Acquire(ctx, jobID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}

	job, err := p.manager.Get(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	outputURI, err := blob.DeriveOutputURI(job.InputURI, p.config.OutputBucket)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	workDir, err := os.MkdirTemp(p.config.TempDir, "personcrop-"+jobID+"-")
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("failed to create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "input"+inputExt(job.InputURI))
	if err := p.blobs.Download(ctx, job.InputURI, inPath); err != nil {
		return p.fail(ctx, jobID, err)
	}

	frames, outPath, err := p.run(ctx, jobID, inPath, workDir)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}

	if err := p.blobs.Upload(ctx, outPath, outputURI); err != nil {
		return p.fail(ctx, jobID, err)
	}
	if err := p.manager.Complete(ctx, jobID, outputURI); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"job_id": jobID,
		"frames": frames,
		"output": outputURI,
	}).Info("job processed")
	return nil
}

// run executes the frame pipeline against local files and returns the
// encoded output path.
func (p *Processor) run(ctx context.Context, jobID, inPath, workDir string) (int, string, error) {
	src, err := p.media.OpenSource(inPath)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	info := src.Info()
	renderer := render.NewRenderer(info, p.config.DrawTimestamp)

	outPath := filepath.Join(workDir, "output.mp4")
	sink, err := p.media.OpenSink(inPath, outPath, renderer.OutputInfo())
	if err != nil {
		return 0, "", err
	}

	pipe := pipeline.New(p.detector, p.config.CropParams, p.config.BatchSize)
	pipe.Progress = func(frames int) {
		p.manager.Checkpoint(ctx, jobID, frames)
	}

	frames, err := pipe.Run(ctx, src, renderer, sink)
	if err != nil {
		sink.Abort()
		return frames, "", err
	}
	if err := sink.Finalize(); err != nil {
		return frames, "", err
	}
	return frames, outPath, nil
}

// fail records the failure on the job and hands the cause back to the
// queue layer for logging.
func (p *Processor) fail(ctx context.Context, jobID string, cause error) error {
	if err := p.manager.Fail(ctx, jobID, cause); err != nil {
		logrus.WithFields(logrus.Fields{"job_id": jobID, "error": err}).Error("failed to record job failure")
	}
	return cause
}

func inputExt(uri string) string {
	ext := filepath.Ext(uri)
	if ext == "" || len(ext) > 8 {
		return ".mp4"
	}
	return ext
}

package video

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/framelens/personcrop/internal/models"
)

// Encoder feeds rendered frames into ffmpeg, which encodes H.264 and
// muxes the original audio track back in. It implements
// pipeline.FrameSink plus an explicit Finalize/Abort pair: the output
// only appears at its final path after a fully successful encode.
type Encoder struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	tmpPath   string
	finalPath string
	finished  bool
}

// OpenEncoder starts the encode process. srcPath is the original input
// file, used as the audio source ("-map 1:a?" keeps the output
// video-only when the source has no audio track).
func (f *FFmpeg) OpenEncoder(srcPath, outPath string, info models.VideoInfo) (*Encoder, error) {
	tmpPath := outPath + ".part"

	cmd := exec.Command(f.ffmpegPath,
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-pix_fmt", "bgr24",
		"-r", formatFPS(info.FPS),
		"-i", "pipe:0", // rendered frames
		"-i", srcPath, // original file for the audio track
		"-map", "0:v:0",
		"-map", "1:a?",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-shortest",
		tmpPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encode pipe: %w", err)
	}

	e := &Encoder{
		cmd:       cmd,
		stdin:     stdin,
		tmpPath:   tmpPath,
		finalPath: outPath,
	}
	cmd.Stderr = &e.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return e, nil
}

// Write appends one rendered frame to the output stream.
func (e *Encoder) Write(frame *models.Frame) error {
	if _, err := e.stdin.Write(frame.Data); err != nil {
		return fmt.Errorf("failed to write frame %d: %s", frame.Index, stderrTail(e.stderr.Bytes(), 800))
	}
	return nil
}

// Finalize closes the stream, waits for ffmpeg, and moves the file to
// its final path. Nothing is visible at the final path until this
// succeeds.
func (e *Encoder) Finalize() error {
	if e.finished {
		return nil
	}
	e.finished = true

	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		os.Remove(e.tmpPath)
		return fmt.Errorf("ffmpeg encode failed: %s", stderrTail(e.stderr.Bytes(), 800))
	}
	if err := os.Rename(e.tmpPath, e.finalPath); err != nil {
		os.Remove(e.tmpPath)
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}

// Abort kills the encode and removes the partial file. Safe to call
// after Finalize; it does nothing then.
func (e *Encoder) Abort() {
	if e.finished {
		return
	}
	e.finished = true

	e.stdin.Close()
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	e.cmd.Wait()
	os.Remove(e.tmpPath)
}

package video

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/models"
)

// Decoder streams decoded bgr24 frames from a local video file. It
// implements pipeline.FrameSource.
type Decoder struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	info      models.VideoInfo
	frameSize int
	index     int
	done      bool
}

// OpenDecoder probes the file and starts an ffmpeg process that writes
// raw frames to its stdout pipe.
func (f *FFmpeg) OpenDecoder(videoPath string) (*Decoder, error) {
	info, err := f.Probe(videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe input: %w", err)
	}

	cmd := exec.Command(f.ffmpegPath,
		"-v", "error",
		"-i", videoPath,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decode pipe: %w", err)
	}

	d := &Decoder{
		cmd:       cmd,
		stdout:    stdout,
		info:      info,
		frameSize: info.Width * info.Height * 3,
	}
	cmd.Stderr = &d.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return d, nil
}

// Info returns the probed stream shape.
func (d *Decoder) Info() models.VideoInfo { return d.info }

// Next returns the next frame, or io.EOF after the stream ends. A
// truncated trailing frame is dropped rather than failing the job.
func (d *Decoder) Next() (*models.Frame, error) {
	if d.done {
		return nil, io.EOF
	}
	buf := make([]byte, d.frameSize)
	_, err := io.ReadFull(d.stdout, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if err == io.ErrUnexpectedEOF {
			logrus.WithField("frame", d.index).Warn("dropping truncated trailing frame")
		}
		d.done = true
		if werr := d.cmd.Wait(); werr != nil {
			return nil, fmt.Errorf("ffmpeg decode failed: %s", stderrTail(d.stderr.Bytes(), 800))
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frame %d: %w", d.index, err)
	}

	frame := &models.Frame{
		Index: d.index,
		PTS:   float64(d.index) / d.info.FPS,
		Data:  buf,
	}
	d.index++
	return frame, nil
}

// Close tears the decoder down; safe after EOF.
func (d *Decoder) Close() error {
	d.stdout.Close()
	if d.done {
		return nil
	}
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	d.done = true
	return nil
}

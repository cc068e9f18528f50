// Package video decodes and encodes streams by driving ffmpeg as a
// subprocess, exchanging packed bgr24 frames over pipes.
package video

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/framelens/personcrop/internal/models"
)

// FFmpeg locates the ffmpeg/ffprobe binaries once at startup. A missing
// installation is a fatal worker error, not a per-job one.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg verifies the ffmpeg installation.
func NewFFmpeg() (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// Probe extracts the stream shape the pipeline needs.
func (f *FFmpeg) Probe(videoPath string) (models.VideoInfo, error) {
	cmd := exec.Command(f.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return models.VideoInfo{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeOutput(output)
}

type probeData struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(output []byte) (models.VideoInfo, error) {
	var data probeData
	if err := json.Unmarshal(output, &data); err != nil {
		return models.VideoInfo{}, fmt.Errorf("failed to parse ffprobe JSON: %w", err)
	}

	info := models.VideoInfo{}
	if data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	for _, stream := range data.Streams {
		switch stream.CodecType {
		case "video":
			if info.Width != 0 {
				continue // first video stream wins
			}
			info.Width = stream.Width
			info.Height = stream.Height
			info.FPS = parseFrameRate(stream.RFrameRate)
			if stream.NbFrames != "" {
				if n, err := strconv.Atoi(stream.NbFrames); err == nil {
					info.FrameCount = n
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if info.Width <= 0 || info.Height <= 0 {
		return models.VideoInfo{}, fmt.Errorf("no usable video stream (dimensions %dx%d)", info.Width, info.Height)
	}
	if info.FPS <= 0 {
		info.FPS = 30
	}
	return info, nil
}

// parseFrameRate handles ffprobe's fractional form ("30000/1001").
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den > 0 {
			return num / den
		}
		return 0
	}
	v, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0
	}
	return v
}

// stderrTail keeps the end of an ffmpeg stderr dump; that is where the
// actual failure reason lands.
func stderrTail(stderr []byte, limit int) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

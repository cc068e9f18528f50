package worker

import (
	"github.com/framelens/personcrop/internal/models"
	"github.com/framelens/personcrop/internal/pipeline"
	"github.com/framelens/personcrop/internal/video"
)

// FFmpegMedia adapts the ffmpeg subprocess layer to the Media interface.
type FFmpegMedia struct {
	ffmpeg *video.FFmpeg
}

// NewFFmpegMedia wraps a verified ffmpeg installation.
func NewFFmpegMedia(ffmpeg *video.FFmpeg) *FFmpegMedia {
	return &FFmpegMedia{ffmpeg: ffmpeg}
}

// OpenSource starts a decoder for the local file.
func (m *FFmpegMedia) OpenSource(path string) (pipeline.FrameSource, error) {
	return m.ffmpeg.OpenDecoder(path)
}

// OpenSink starts an encoder that muxes audio from srcPath.
func (m *FFmpegMedia) OpenSink(srcPath, outPath string, info models.VideoInfo) (Sink, error) {
	return m.ffmpeg.OpenEncoder(srcPath, outPath, info)
}

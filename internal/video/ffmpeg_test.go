package video

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "video", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "nb_frames": "450"},
			{"codec_type": "audio"}
		],
		"format": {"duration": "15.015000"}
	}`)

	info, err := parseProbeOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.001)
	assert.Equal(t, 450, info.FrameCount)
	assert.InDelta(t, 15.015, info.Duration, 0.0001)
	assert.True(t, info.HasAudio)
}

func TestParseProbeOutputFirstVideoStreamWins(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "video", "width": 1280, "height": 720, "r_frame_rate": "25/1"},
			{"codec_type": "video", "width": 320, "height": 240, "r_frame_rate": "10/1"}
		],
		"format": {}
	}`)

	info, err := parseProbeOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 25.0, info.FPS, 0.0001)
	assert.False(t, info.HasAudio)
}

func TestParseProbeOutputNoVideoStream(t *testing.T) {
	raw := []byte(`{"streams": [{"codec_type": "audio"}], "format": {"duration": "3.0"}}`)

	_, err := parseProbeOutput(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable video stream")
}

func TestParseProbeOutputFPSFallback(t *testing.T) {
	raw := []byte(`{
		"streams": [{"codec_type": "video", "width": 640, "height": 480, "r_frame_rate": "0/0"}],
		"format": {}
	}`)

	info, err := parseProbeOutput(raw)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, info.FPS, 0.0001)
}

func TestParseProbeOutputBadJSON(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"24", 24},
		{"0/0", 0},
		{"garbage", 0},
		{"30/0", 0},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, parseFrameRate(tc.in), 1e-9, "rate %q", tc.in)
	}
}

func TestStderrTail(t *testing.T) {
	long := strings.Repeat("a", 1000) + "the real error"
	got := stderrTail([]byte(long+"\n"), 100)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, "the real error"))

	assert.Equal(t, "short", stderrTail([]byte("  short \n"), 100))
	assert.Equal(t, "", stderrTail(nil, 100))
}

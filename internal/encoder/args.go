// Package encoder builds ffmpeg invocations for live relay sessions and
// supervises the resulting processes.
package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the immutable encode description captured from a start request.
type Config struct {
	TargetBaseURL    string
	StreamKey        string
	Width            int
	Height           int
	FPS              int
	BitrateKbps      int
	UseHardwareAccel bool
}

// Validate checks the numeric and target constraints shared by every profile.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TargetBaseURL) == "" {
		return &ConfigError{Reason: "target URL is required"}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("dimensions must be positive, got %dx%d", c.Width, c.Height)}
	}
	if c.FPS <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("frame rate must be positive, got %d", c.FPS)}
	}
	if c.BitrateKbps <= 0 {
		return &ConfigError{Reason: fmt.Sprintf("bitrate must be positive, got %d", c.BitrateKbps)}
	}
	return nil
}

// Target returns the full output URL: the base with the stream key appended
// when one was supplied.
func (c Config) Target() string {
	if c.StreamKey == "" {
		return c.TargetBaseURL
	}
	return c.TargetBaseURL + "/" + c.StreamKey
}

// Build returns the deterministic ffmpeg argument list for the config.
//
// Input always comes from stdin, output geometry is letterboxed to the
// requested dimensions, keyframes land exactly every two seconds, and rate
// control is CBR with a half-bitrate buffer. The hardware and software
// profiles are mutually exclusive; hardware is never a silent fallback, so a
// missing NVENC device surfaces as an encoder failure.
func Build(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gop := cfg.FPS * 2
	bufsize := cfg.BitrateKbps / 2
	letterbox := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		cfg.Width, cfg.Height, cfg.Width, cfg.Height,
	)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
	}

	if cfg.UseHardwareAccel {
		args = append(args,
			"-c:v", "h264_nvenc",
			"-preset", "p4",
			"-tune", "ll",
			"-rc", "cbr",
			"-gpu", "0",
		)
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-tune", "zerolatency",
			"-threads", "4",
			"-sc_threshold", "0",
		)
	}

	args = append(args,
		"-vf", letterbox,
		"-r", strconv.Itoa(cfg.FPS),
		"-g", strconv.Itoa(gop),
		"-pix_fmt", "yuv420p",
		"-b:v", fmt.Sprintf("%dk", cfg.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", cfg.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", bufsize),
		"-c:a", "aac",
		"-ac", "2",
		"-ar", "44100",
		"-b:a", "128k",
		"-f", "flv",
		cfg.Target(),
	)

	return args, nil
}

package mux

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/afero"

	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/platform"
)

// FFmpeg invocation constants
const (
	FFmpegCommand = "ffmpeg"
	CodecCopy     = "copy"
	FastStartFlag = "+faststart"
	OverwriteFlag = "-y"
	ProbeArg      = "-version"
)

// MuxError reports that the concatenated stream could not be packaged into
// the requested container. It is fatal and never retried: a format
// incompatibility will not resolve by repetition.
type MuxError struct {
	Format model.Format
	Detail string
	Err    error
}

func (e *MuxError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mux to %s: %s", e.Format, e.Detail)
	}
	return fmt.Sprintf("mux to %s: %v", e.Format, e.Err)
}

func (e *MuxError) Unwrap() error {
	return e.Err
}

// Assembler concatenates ready segment slots in ascending index order and
// produces the final output container. For the transport-stream format
// assembly is byte concatenation only; other formats get an ffmpeg
// stream-copy remux, never a re-encode.
type Assembler struct {
	fs         afero.Fs
	ffmpegPath string
}

// NewAssembler creates an assembler writing through fs
func NewAssembler(fs afero.Fs) *Assembler {
	return &Assembler{fs: fs, ffmpegPath: FFmpegCommand}
}

// SetFFmpegPath overrides the ffmpeg binary location
func (a *Assembler) SetFFmpegPath(path string) {
	a.ffmpegPath = path
}

// Assemble writes slot bytes to the output strictly in the given order and
// produces the final file described by spec. slotPaths must already be in
// ascending sequence-index order; the assembler never reads out of order,
// which is what makes worker completion order irrelevant. It returns the
// final file path. The merged intermediate is removed on all paths.
func (a *Assembler) Assemble(ctx context.Context, slotPaths []string, tempDir string, spec model.OutputSpec) (string, error) {
	mergedPath := platform.MergedPath(tempDir)
	finalPath := spec.FinalPath()

	if err := a.concatenate(slotPaths, mergedPath); err != nil {
		return "", err
	}
	defer platform.RemoveTree(a.fs, mergedPath)

	if err := platform.EnsureDir(a.fs, spec.Directory); err != nil {
		return "", fmt.Errorf("ensure output dir: %w", err)
	}

	if !spec.Format.NeedsRemux() {
		if err := platform.MoveFile(a.fs, mergedPath, finalPath); err != nil {
			return "", fmt.Errorf("finalize output: %w", err)
		}
		return finalPath, nil
	}

	if err := a.probeFFmpeg(ctx); err != nil {
		return "", &MuxError{Format: spec.Format, Detail: "ffmpeg is not available", Err: err}
	}

	if err := a.remux(ctx, mergedPath, finalPath, spec.Format); err != nil {
		// Do not leave a partial container behind
		_ = a.fs.Remove(finalPath)
		return "", err
	}

	return finalPath, nil
}

// concatenate appends each slot file to the merged intermediate in order
func (a *Assembler) concatenate(slotPaths []string, mergedPath string) error {
	out, err := a.fs.Create(mergedPath)
	if err != nil {
		return fmt.Errorf("create merged file: %w", err)
	}
	defer func() { _ = out.Close() }()

	for _, slot := range slotPaths {
		in, err := a.fs.Open(slot)
		if err != nil {
			return fmt.Errorf("open slot %s: %w", slot, err)
		}
		_, err = io.Copy(out, in)
		_ = in.Close()
		if err != nil {
			return fmt.Errorf("append slot %s: %w", slot, err)
		}
	}

	return nil
}

// remux runs an ffmpeg stream copy from the merged transport stream into
// the target container
func (a *Assembler) remux(ctx context.Context, inputPath, outputPath string, format model.Format) error {
	args := BuildFFmpegArgs(inputPath, outputPath, format)
	cmd := exec.CommandContext(ctx, a.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &MuxError{
			Format: format,
			Detail: lastStderrLine(stderr.String()),
			Err:    err,
		}
	}
	return nil
}

// BuildFFmpegArgs builds the remux command arguments: stream copy only,
// with MP4 additionally getting the faststart layout
func BuildFFmpegArgs(inputPath, outputPath string, format model.Format) []string {
	args := []string{
		OverwriteFlag,
		"-i", inputPath,
		"-c", CodecCopy,
	}
	if format == model.FormatMP4 {
		args = append(args, "-movflags", FastStartFlag)
	}
	return append(args, outputPath)
}

// probeFFmpeg verifies the ffmpeg binary runs before attempting a remux
func (a *Assembler) probeFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, a.ffmpegPath, ProbeArg)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probe %s: %w", a.ffmpegPath, err)
	}
	return nil
}

// lastStderrLine extracts the most informative line of ffmpeg stderr
func lastStderrLine(stderr string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(stderr)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}

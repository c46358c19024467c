package mux

import (
	"context"
	"fmt"
	"testing"

	"github.com/spf13/afero"

	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/platform"
)

func TestAssemble_TSConcatenation(t *testing.T) {
	fs := afero.NewMemMapFs()
	assembler := NewAssembler(fs)

	tempDir, err := platform.NewJobTempDir(fs)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Slots written out of completion order; assembly order is index order
	var slots []string
	for i := 0; i < 5; i++ {
		slots = append(slots, platform.SlotPath(tempDir, i))
	}
	for _, i := range []int{3, 0, 4, 1, 2} {
		if err := platform.WriteSlot(fs, slots[i], []byte(fmt.Sprintf("seg-%d|", i))); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	spec := model.OutputSpec{FileName: "movie", Directory: "/out", Format: model.FormatTS}
	path, err := assembler.Assemble(context.Background(), slots, tempDir, spec)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path != "/out/movie.ts" {
		t.Errorf("Expected output path '/out/movie.ts', got %s", path)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Expected output to exist, got %v", err)
	}
	expected := "seg-0|seg-1|seg-2|seg-3|seg-4|"
	if string(data) != expected {
		t.Errorf("Expected output %q, got %q", expected, string(data))
	}

	// The merged intermediate must not survive assembly
	if exists, _ := afero.Exists(fs, platform.MergedPath(tempDir)); exists {
		t.Error("Expected merged intermediate to be removed")
	}
}

func TestAssemble_MissingSlot(t *testing.T) {
	fs := afero.NewMemMapFs()
	assembler := NewAssembler(fs)

	tempDir, err := platform.NewJobTempDir(fs)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	spec := model.OutputSpec{FileName: "movie", Directory: "/out", Format: model.FormatTS}
	_, err = assembler.Assemble(context.Background(), []string{platform.SlotPath(tempDir, 0)}, tempDir, spec)
	if err == nil {
		t.Fatal("Expected error for missing slot file")
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	tests := []struct {
		format       model.Format
		wantFastText bool
	}{
		{model.FormatMP4, true},
		{model.FormatMKV, false},
		{model.FormatWebM, false},
	}

	for _, test := range tests {
		args := BuildFFmpegArgs("/tmp/merged.ts", "/out/movie."+string(test.format), test.format)

		hasCopy := false
		hasFaststart := false
		for i, arg := range args {
			if arg == "-c" && i+1 < len(args) && args[i+1] == CodecCopy {
				hasCopy = true
			}
			if arg == FastStartFlag {
				hasFaststart = true
			}
		}

		if !hasCopy {
			t.Errorf("%s: expected stream copy args, got %v", test.format, args)
		}
		if hasFaststart != test.wantFastText {
			t.Errorf("%s: faststart flag presence = %v, expected %v", test.format, hasFaststart, test.wantFastText)
		}
		if args[len(args)-1] != "/out/movie."+string(test.format) {
			t.Errorf("%s: expected output path last, got %v", test.format, args)
		}
		if args[0] != OverwriteFlag {
			t.Errorf("%s: expected %s first, got %v", test.format, OverwriteFlag, args)
		}
	}
}

func TestAssemble_RemuxWithoutFFmpeg(t *testing.T) {
	fs := afero.NewMemMapFs()
	assembler := NewAssembler(fs)
	assembler.SetFFmpegPath("/nonexistent/ffmpeg-binary")

	tempDir, err := platform.NewJobTempDir(fs)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	slot := platform.SlotPath(tempDir, 0)
	if err := platform.WriteSlot(fs, slot, []byte("x")); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	spec := model.OutputSpec{FileName: "movie", Directory: "/out", Format: model.FormatMP4}
	_, err = assembler.Assemble(context.Background(), []string{slot}, tempDir, spec)

	muxErr, ok := err.(*MuxError)
	if !ok {
		t.Fatalf("Expected *MuxError, got %v", err)
	}
	if muxErr.Format != model.FormatMP4 {
		t.Errorf("Expected format mp4 in error, got %s", muxErr.Format)
	}
}

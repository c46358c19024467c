package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Format is the requested output container format
type Format string

const (
	FormatTS   Format = "ts"
	FormatMP4  Format = "mp4"
	FormatMKV  Format = "mkv"
	FormatWebM Format = "webm"
)

// Concurrency bounds for segment downloads
const (
	MinConcurrency = 1
	MaxConcurrency = 16
)

// ParseFormat validates a user-supplied format string
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTS, FormatMP4, FormatMKV, FormatWebM:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// NeedsRemux returns true when producing the format requires an ffmpeg
// stream-copy pass instead of plain concatenation
func (f Format) NeedsRemux() bool {
	return f != FormatTS
}

// OutputSpec describes where and how the final file is written.
// It is immutable once a job starts.
type OutputSpec struct {
	// FileName is the output name without directory; its extension is
	// corrected to match Format
	FileName string
	// Directory is the target directory for the final file
	Directory string
	// Format is the output container
	Format Format
}

// FinalPath returns the absolute output path with the extension forced to
// the selected format
func (o OutputSpec) FinalPath() string {
	name := o.FileName
	ext := "." + string(o.Format)
	if cur := filepath.Ext(name); !strings.EqualFold(cur, ext) {
		name = strings.TrimSuffix(name, cur) + ext
	}
	return filepath.Join(o.Directory, name)
}

// JobRequest is the full description of a download job as submitted by the
// external shell
type JobRequest struct {
	// URL is the playlist entry point (master or media)
	URL string
	// Output describes the final file
	Output OutputSpec
	// Concurrency is the requested parallel worker count, clamped to
	// [MinConcurrency, MaxConcurrency]
	Concurrency int
	// Referer and UserAgent are optional request headers applied to all
	// playlist, key and segment fetches
	Referer   string
	UserAgent string
}

// ClampedConcurrency returns the effective worker limit for the request
func (r JobRequest) ClampedConcurrency() int {
	if r.Concurrency < MinConcurrency {
		return MinConcurrency
	}
	if r.Concurrency > MaxConcurrency {
		return MaxConcurrency
	}
	return r.Concurrency
}

// Job is the externally visible snapshot of one download run
type Job struct {
	ID      string
	Request JobRequest
	Status  JobStatus

	// Aggregate segment counts
	Ready    int
	Failed   int
	InFlight int
	Total    int

	// OutputPath is set once the job finishes successfully
	OutputPath string
	// LastError holds the fatal error message for failed jobs
	LastError string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Progress returns completion as a fraction in [0, 1]; it freezes at its
// last value when the job fails or is cancelled
func (j *Job) Progress() float64 {
	if j.Total == 0 {
		return 0
	}
	return float64(j.Ready) / float64(j.Total)
}

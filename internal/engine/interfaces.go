package engine

import (
	"context"

	"github.com/ytget/hls-downloader/internal/model"
)

// Resolver turns a playlist entry URL into an ordered segment manifest
type Resolver interface {
	Resolve(ctx context.Context, entryURL string) (*model.Manifest, error)
}

// Assembler produces the final output file from ready segment slots given
// in ascending index order
type Assembler interface {
	Assemble(ctx context.Context, slotPaths []string, tempDir string, spec model.OutputSpec) (string, error)
}

// Engine defines the interface the external shell drives
type Engine interface {
	// Submit starts a new download job and returns its snapshot together
	// with the job's event stream
	Submit(req model.JobRequest) (model.Job, <-chan model.Event, error)

	// Cancel requests cooperative cancellation of a running job
	Cancel(id string) error

	// Job returns a snapshot of one job
	Job(id string) (model.Job, bool)

	// Jobs returns snapshots of all known jobs
	Jobs() []model.Job
}

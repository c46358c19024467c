package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ytget/hls-downloader/internal/crypt"
	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/platform"
)

// Retry policy constants
const (
	// MaxAttempts is the per-segment attempt budget; the third failure in a
	// row is terminal for the job
	MaxAttempts = 3

	// CryptoMaxAttempts is the tighter budget for decryption failures: a
	// repeat crypto failure indicates wrong key material, not a transient
	// condition
	CryptoMaxAttempts = 2

	// RetryDelay is a politeness pause between attempts, not a correctness
	// requirement
	RetryDelay = 500 * time.Millisecond

	JobIDPrefix = "job-"
)

// Service owns all download jobs. Each submitted job gets fresh run state
// (limiter, key cache, segment slots, event stream) created at job start
// and released when the run reaches a terminal outcome; only the job
// snapshot stays queryable afterwards.
type Service struct {
	fs        afero.Fs
	fetcher   Fetcher
	resolver  Resolver
	assembler Assembler

	retryDelay time.Duration

	jobs      map[string]*jobState
	jobsMutex sync.RWMutex
}

// jobState is the engine-internal state of one run; it exclusively owns the
// segment states and the limiter permits
type jobState struct {
	mu       sync.Mutex
	job      *model.Job
	segments []*model.SegmentState
	tempDir  string
	fatal    error

	limiter *Limiter
	keys    *crypt.KeyCache
	events  *stream
	cancel  context.CancelFunc
	failing atomic.Bool
}

// NewService creates the engine with its injected capabilities
func NewService(fs afero.Fs, fetcher Fetcher, resolver Resolver, assembler Assembler) *Service {
	return &Service{
		fs:         fs,
		fetcher:    fetcher,
		resolver:   resolver,
		assembler:  assembler,
		retryDelay: RetryDelay,
		jobs:       make(map[string]*jobState),
	}
}

// Submit starts a new download job. It returns a snapshot of the job and
// the job's event stream; the stream is closed right after the single
// terminal event.
func (s *Service) Submit(req model.JobRequest) (model.Job, <-chan model.Event, error) {
	if req.URL == "" {
		return model.Job{}, nil, errors.New("playlist URL is required")
	}
	if req.Output.FileName == "" {
		return model.Job{}, nil, errors.New("output file name is required")
	}
	format, err := model.ParseFormat(string(req.Output.Format))
	if err != nil {
		return model.Job{}, nil, err
	}
	req.Output.Format = format
	req.Concurrency = req.ClampedConcurrency()

	ctx, cancel := context.WithCancel(context.Background())
	js := &jobState{
		job: &model.Job{
			ID:        generateJobID(),
			Request:   req,
			Status:    model.JobStatusResolving,
			StartedAt: time.Now(),
		},
		limiter: NewLimiter(req.Concurrency),
		events:  newStream(),
		cancel:  cancel,
	}
	js.keys = crypt.NewKeyCache(s.fetcher)
	js.keys.OnFetch = func(uri string) {
		js.logf("fetched encryption key %s", uri)
	}

	s.jobsMutex.Lock()
	s.jobs[js.job.ID] = js
	s.jobsMutex.Unlock()

	go s.run(ctx, js)

	return js.snapshot(), js.events.ch, nil
}

// Cancel requests cooperative cancellation of a running job. In-flight
// requests are aborted where the transport supports it; their results are
// discarded.
func (s *Service) Cancel(id string) error {
	s.jobsMutex.RLock()
	js, exists := s.jobs[id]
	s.jobsMutex.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	js.mu.Lock()
	active := js.job.Status.IsActive()
	js.mu.Unlock()
	if !active {
		return fmt.Errorf("job is not active: %s", id)
	}

	js.cancel()
	return nil
}

// Job returns a snapshot of one job
func (s *Service) Job(id string) (model.Job, bool) {
	s.jobsMutex.RLock()
	js, exists := s.jobs[id]
	s.jobsMutex.RUnlock()

	if !exists {
		return model.Job{}, false
	}
	return js.snapshot(), true
}

// Jobs returns snapshots of all known jobs
func (s *Service) Jobs() []model.Job {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	jobs := make([]model.Job, 0, len(s.jobs))
	for _, js := range s.jobs {
		jobs = append(jobs, js.snapshot())
	}
	return jobs
}

// run drives one job from resolution to its terminal outcome. Temp state
// is cleaned up inside execute, before any terminal event is emitted.
func (s *Service) run(ctx context.Context, js *jobState) {
	defer js.cancel()

	path, err := s.execute(ctx, js)
	js.releaseRunState()
	if err != nil {
		s.finishAbnormal(ctx, js, err)
		return
	}

	js.mu.Lock()
	js.job.Status = model.JobStatusFinished
	js.job.OutputPath = path
	js.job.FinishedAt = time.Now()
	js.mu.Unlock()

	js.logf("job finished: %s", path)
	js.events.terminal(model.Event{Kind: model.EventFinished, Path: path})
}

// execute performs resolution, download and assembly, returning the final
// output path
func (s *Service) execute(ctx context.Context, js *jobState) (string, error) {
	req := js.job.Request
	js.logf("job started: %s", req.URL)

	manifest, err := s.resolver.Resolve(ctx, req.URL)
	if err != nil {
		return "", err
	}

	js.mu.Lock()
	js.job.Status = model.JobStatusDownloading
	js.job.Total = manifest.Total()
	for i := range manifest.Segments {
		js.segments = append(js.segments, &model.SegmentState{
			Descriptor: manifest.Segments[i],
			Status:     model.SegmentStatusPending,
		})
	}
	js.mu.Unlock()

	if manifest.Encrypted {
		js.logf("resolved %d segments from %s (AES-128 encrypted)", manifest.Total(), manifest.URL)
	} else {
		js.logf("resolved %d segments from %s", manifest.Total(), manifest.URL)
	}
	js.events.progress(0, manifest.Total())

	tempDir, err := platform.NewJobTempDir(s.fs)
	if err != nil {
		return "", err
	}
	js.mu.Lock()
	js.tempDir = tempDir
	js.mu.Unlock()
	defer platform.RemoveTree(s.fs, tempDir)

	if err := s.downloadAll(ctx, js); err != nil {
		return "", err
	}

	js.mu.Lock()
	js.job.Status = model.JobStatusAssembling
	slots := make([]string, 0, len(js.segments))
	for _, st := range js.segments {
		slots = append(slots, st.SlotPath)
	}
	js.mu.Unlock()

	js.logf("assembling %d segments into %s output", len(slots), req.Output.Format)

	return s.assembler.Assemble(ctx, slots, tempDir, req.Output)
}

// downloadAll dispatches one worker per pending segment under the limiter
// and waits for all of them. Dispatch stops as soon as the job is failing
// or cancelled; workers already in flight drain on their own.
func (s *Service) downloadAll(ctx context.Context, js *jobState) error {
	var wg sync.WaitGroup

	for _, st := range js.segments {
		if ctx.Err() != nil || js.failing.Load() {
			break
		}
		if err := js.limiter.Acquire(ctx); err != nil {
			break
		}

		wg.Add(1)
		go func(st *model.SegmentState) {
			defer wg.Done()
			defer js.limiter.Release()
			s.processSegment(ctx, js, st)
		}(st)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	js.mu.Lock()
	fatal := js.fatal
	ready, total := js.job.Ready, js.job.Total
	js.mu.Unlock()

	if fatal != nil {
		return fatal
	}
	if ready != total {
		return fmt.Errorf("only %d of %d segments completed", ready, total)
	}
	return nil
}

// processSegment runs the download/verify/decrypt pipeline for one segment,
// retrying within the attempt budget. A failed attempt regresses the
// segment to Pending; the budget bounds those regressions.
func (s *Service) processSegment(ctx context.Context, js *jobState, st *model.SegmentState) {
	w := &worker{fetcher: s.fetcher, keys: js.keys}
	desc := st.Descriptor

	for {
		if ctx.Err() != nil {
			return
		}

		js.mu.Lock()
		st.Attempts++
		attempt := st.Attempts
		js.mu.Unlock()

		data, err := w.run(ctx, desc, func(status model.SegmentStatus) {
			js.setSegmentStatus(st, status)
		})
		if err == nil {
			slot := platform.SlotPath(js.tempDir, desc.Index)
			if err = platform.WriteSlot(s.fs, slot, data); err == nil {
				js.mu.Lock()
				st.SlotPath = slot
				js.mu.Unlock()
				js.setSegmentStatus(st, model.SegmentStatusReady)

				js.mu.Lock()
				ready, total := js.job.Ready, js.job.Total
				js.mu.Unlock()
				js.events.progress(ready, total)
				return
			}
		}

		if ctx.Err() != nil {
			// Cancellation aborted the attempt; not a segment failure
			js.setSegmentStatus(st, model.SegmentStatusPending)
			return
		}

		js.mu.Lock()
		st.LastError = err.Error()
		js.mu.Unlock()

		budget := MaxAttempts
		var cryptoErr *crypt.CryptoError
		if errors.As(err, &cryptoErr) {
			budget = CryptoMaxAttempts
		}

		if attempt >= budget {
			js.setSegmentStatus(st, model.SegmentStatusFailed)
			js.failJob(fmt.Errorf("segment %d: %w", desc.Index, err))
			js.logf("segment %d failed permanently after %d attempts: %v", desc.Index, attempt, err)
			return
		}

		js.setSegmentStatus(st, model.SegmentStatusPending)
		js.logf("segment %d attempt %d failed, retrying: %v", desc.Index, attempt, err)

		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// finishAbnormal reports the terminal outcome for a job that did not
// finish: Cancelled when the context was cancelled, Failed otherwise
func (s *Service) finishAbnormal(ctx context.Context, js *jobState, err error) {
	if ctx.Err() != nil {
		s.finishCancelled(js)
		return
	}

	js.mu.Lock()
	js.job.Status = model.JobStatusFailed
	js.job.LastError = err.Error()
	js.job.FinishedAt = time.Now()
	js.mu.Unlock()

	js.logf("job failed: %v", err)
	js.events.terminal(model.Event{Kind: model.EventFailed, Reason: err.Error()})
}

func (s *Service) finishCancelled(js *jobState) {
	js.mu.Lock()
	js.job.Status = model.JobStatusCancelled
	js.job.FinishedAt = time.Now()
	js.mu.Unlock()

	js.logf("job cancelled")
	js.events.terminal(model.Event{Kind: model.EventCancelled})
}

// setSegmentStatus advances a segment's state and keeps the job's
// aggregate counts in step
func (js *jobState) setSegmentStatus(st *model.SegmentState, status model.SegmentStatus) {
	js.mu.Lock()
	defer js.mu.Unlock()

	prev := st.Status
	st.Status = status

	if prev.IsActive() && !status.IsActive() {
		js.job.InFlight--
	}
	if !prev.IsActive() && status.IsActive() {
		js.job.InFlight++
	}
	switch status {
	case model.SegmentStatusReady:
		js.job.Ready++
	case model.SegmentStatusFailed:
		js.job.Failed++
	}
}

// releaseRunState drops the run machinery once the run is over, keeping
// only the job snapshot reachable for later queries. All workers have
// joined by the time this is called.
func (js *jobState) releaseRunState() {
	js.mu.Lock()
	js.limiter = nil
	js.keys = nil
	js.segments = nil
	js.tempDir = ""
	js.mu.Unlock()
}

// failJob records the first terminal segment error and stops new dispatch
func (js *jobState) failJob(err error) {
	js.failing.Store(true)
	js.mu.Lock()
	if js.fatal == nil {
		js.fatal = err
	}
	js.mu.Unlock()
}

// logf emits one log line both to the structured logger and to the job's
// event stream
func (js *jobState) logf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	logrus.WithField("job", js.job.ID).Info(text)
	js.events.log(text)
}

// snapshot returns a copy of the job safe to hand outside the engine
func (js *jobState) snapshot() model.Job {
	js.mu.Lock()
	defer js.mu.Unlock()
	return *js.job
}

// generateJobID generates a unique job ID using UUID v7 for better
// uniqueness and time ordering
func generateJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to timestamp if UUID generation fails
		return fmt.Sprintf(JobIDPrefix+"%d", time.Now().UnixNano())
	}
	return JobIDPrefix + id.String()
}

package engine

import (
	"time"

	"github.com/ytget/hls-downloader/internal/model"
)

// eventBufferSize absorbs bursts of progress updates so that workers are
// not stalled by a slow consumer
const eventBufferSize = 512

// stream is one job's one-way, ordered event channel. Consumers must drain
// it until it is closed; it closes right after the single terminal event.
type stream struct {
	ch chan model.Event
}

func newStream() *stream {
	return &stream{ch: make(chan model.Event, eventBufferSize)}
}

// progress emits updated counts. Progress events are coalescable, so they
// are dropped rather than blocking when the consumer lags.
func (s *stream) progress(ready, total int) {
	ev := model.Event{Kind: model.EventProgress, At: time.Now(), Ready: ready, Total: total}
	select {
	case s.ch <- ev:
	default:
	}
}

// log emits one human-readable log line
func (s *stream) log(text string) {
	s.ch <- model.Event{Kind: model.EventLog, At: time.Now(), Text: text}
}

// terminal emits the job-ending event and closes the stream. It must be
// called exactly once, after all other emitters have stopped.
func (s *stream) terminal(ev model.Event) {
	ev.At = time.Now()
	s.ch <- ev
	close(s.ch)
}

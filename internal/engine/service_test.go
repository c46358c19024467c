package engine

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ytget/hls-downloader/internal/crypt"
	"github.com/ytget/hls-downloader/internal/fetch"
	"github.com/ytget/hls-downloader/internal/model"
	"github.com/ytget/hls-downloader/internal/mux"
	"github.com/ytget/hls-downloader/internal/playlist"
)

// newEngine wires a service onto an in-memory filesystem and a real
// resolver/assembler, pointed at the given HTTP test server
func newEngine(fs afero.Fs) *Service {
	client := fetch.NewClient(fetch.Options{Timeout: 5 * time.Second})
	svc := NewService(fs, client, playlist.NewResolver(client), mux.NewAssembler(fs))
	svc.retryDelay = time.Millisecond
	return svc
}

// drainEvents collects the full event stream of one job
func drainEvents(ch <-chan model.Event) []model.Event {
	var events []model.Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func lastEvent(events []model.Event) model.Event {
	if len(events) == 0 {
		return model.Event{}
	}
	return events[len(events)-1]
}

// encryptCBC pads with PKCS#7 and encrypts, like an HLS origin
func encryptCBC(plaintext, key, iv []byte) []byte {
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)

	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestSubmit_PlainPlaylistFinishes(t *testing.T) {
	handler := http.NewServeMux()
	var playlistText strings.Builder
	playlistText.WriteString("#EXTM3U\n")
	for i := 0; i < 5; i++ {
		i := i
		playlistText.WriteString(fmt.Sprintf("#EXTINF:5,\nseg%d.ts\n", i))
		handler.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(fmt.Sprintf("S%d|", i)))
		})
	}
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playlistText.String()))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	job, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "movie", Directory: "/out", Format: model.FormatTS},
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	collected := drainEvents(events)
	final := lastEvent(collected)
	if final.Kind != model.EventFinished {
		t.Fatalf("Expected Finished terminal event, got %s (%s)", final.Kind, final.Reason)
	}
	if final.Path != "/out/movie.ts" {
		t.Errorf("Expected path '/out/movie.ts', got %s", final.Path)
	}

	data, err := afero.ReadFile(fs, final.Path)
	if err != nil {
		t.Fatalf("Expected output file, got %v", err)
	}
	if string(data) != "S0|S1|S2|S3|S4|" {
		t.Errorf("Expected in-order concatenation, got %q", string(data))
	}

	snapshot, exists := svc.Job(job.ID)
	if !exists {
		t.Fatal("Expected job to be known")
	}
	if snapshot.Status != model.JobStatusFinished {
		t.Errorf("Expected status Finished, got %s", snapshot.Status)
	}
	if snapshot.Ready != 5 || snapshot.Total != 5 {
		t.Errorf("Expected 5/5 ready, got %d/%d", snapshot.Ready, snapshot.Total)
	}

	// Exactly one terminal event, and a progress event that reached 5/5
	sawFull := false
	for _, ev := range collected {
		if ev.Kind == model.EventProgress && ev.Ready == 5 && ev.Total == 5 {
			sawFull = true
		}
		if ev.Terminal() && ev != final {
			t.Error("Expected a single terminal event")
		}
	}
	if !sawFull {
		t.Error("Expected progress to reach 5/5")
	}
}

func TestSubmit_TransientFailuresRecover(t *testing.T) {
	var attempts int32
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:5,\nflaky.ts\n#EXTINF:5,\nsolid.ts\n"))
	})
	handler.HandleFunc("/flaky.ts", func(w http.ResponseWriter, r *http.Request) {
		// Fails transiently exactly twice, then succeeds
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("F|"))
	})
	handler.HandleFunc("/solid.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("S|"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	_, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFinished {
		t.Fatalf("Expected Finished after transient failures, got %s (%s)", final.Kind, final.Reason)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts for flaky segment, got %d", got)
	}

	data, _ := afero.ReadFile(fs, final.Path)
	if string(data) != "F|S|" {
		t.Errorf("Expected ordered output 'F|S|', got %q", string(data))
	}
}

func TestSubmit_ExhaustedRetriesFailJob(t *testing.T) {
	var attempts int32
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:5,\ngood.ts\n#EXTINF:5,\nbroken.ts\n"))
	})
	handler.HandleFunc("/good.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("G|"))
	})
	handler.HandleFunc("/broken.ts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	job, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFailed {
		t.Fatalf("Expected Failed terminal event, got %s", final.Kind)
	}
	if got := atomic.LoadInt32(&attempts); got != MaxAttempts {
		t.Errorf("Expected %d attempts before terminal failure, got %d", MaxAttempts, got)
	}

	snapshot, _ := svc.Job(job.ID)
	if snapshot.Status != model.JobStatusFailed {
		t.Errorf("Expected status Failed, got %s", snapshot.Status)
	}
	// Progress freezes below 100% on failure
	if snapshot.Ready >= snapshot.Total {
		t.Errorf("Expected frozen progress below total, got %d/%d", snapshot.Ready, snapshot.Total)
	}
	if snapshot.LastError == "" {
		t.Error("Expected LastError to be recorded")
	}
}

func TestSubmit_ConcurrencyNeverExceeded(t *testing.T) {
	const segments = 12
	const limit = 3

	var inFlight, peak int32
	handler := http.NewServeMux()
	var playlistText strings.Builder
	playlistText.WriteString("#EXTM3U\n")
	for i := 0; i < segments; i++ {
		playlistText.WriteString(fmt.Sprintf("#EXTINF:5,\nseg%d.ts\n", i))
	}
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playlistText.String()))
	})
	handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	_, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: limit,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFinished {
		t.Fatalf("Expected Finished, got %s (%s)", final.Kind, final.Reason)
	}
	if p := atomic.LoadInt32(&peak); p > limit {
		t.Errorf("Peak segment concurrency %d exceeded limit %d", p, limit)
	}
}

func TestSubmit_EncryptedPlaylistRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	plaintexts := [][]byte{
		[]byte("G segment zero "),
		[]byte("G segment one "),
		[]byte("G segment two "),
	}

	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n" +
			"#EXTINF:5,\nenc0.ts\n" +
			"#EXTINF:5,\nenc1.ts\n" +
			"#EXTINF:5,\nenc2.ts\n"))
	})
	handler.HandleFunc("/key.bin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(key)
	})
	for i := range plaintexts {
		i := i
		handler.HandleFunc(fmt.Sprintf("/enc%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(encryptCBC(plaintexts[i], key, crypt.DeriveIV(uint64(i))))
		})
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	_, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	collected := drainEvents(events)
	final := lastEvent(collected)
	if final.Kind != model.EventFinished {
		t.Fatalf("Expected Finished, got %s (%s)", final.Kind, final.Reason)
	}

	data, _ := afero.ReadFile(fs, final.Path)
	expected := bytes.Join(plaintexts, nil)
	if !bytes.Equal(data, expected) {
		t.Errorf("Expected decrypted concatenation %q, got %q", expected, data)
	}

	sawKeyLog := false
	for _, ev := range collected {
		if ev.Kind == model.EventLog && strings.Contains(ev.Text, "encryption key") {
			sawKeyLog = true
		}
	}
	if !sawKeyLog {
		t.Error("Expected a key fetch log line")
	}
}

func TestSubmit_CryptoFailureUsesTighterBudget(t *testing.T) {
	var attempts int32
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n" +
			"#EXTINF:5,\nenc0.ts\n"))
	})
	handler.HandleFunc("/key.bin", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789abcdef"))
	})
	handler.HandleFunc("/enc0.ts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		// Not a multiple of the AES block size
		_, _ = w.Write([]byte("garbage"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	_, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFailed {
		t.Fatalf("Expected Failed, got %s", final.Kind)
	}
	if got := atomic.LoadInt32(&attempts); got != CryptoMaxAttempts {
		t.Errorf("Expected %d attempts for crypto failure, got %d", CryptoMaxAttempts, got)
	}
}

func TestCancel_MidJob(t *testing.T) {
	release := make(chan struct{})
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:5,\nslow0.ts\n#EXTINF:5,\nslow1.ts\n#EXTINF:5,\nslow2.ts\n"))
	})
	handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer close(release)

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	job, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// Give workers time to enter the downloading state
	time.Sleep(100 * time.Millisecond)
	if err := svc.Cancel(job.ID); err != nil {
		t.Fatalf("Expected cancel to succeed, got %v", err)
	}

	collected := drainEvents(events)
	final := lastEvent(collected)
	if final.Kind != model.EventCancelled {
		t.Fatalf("Expected Cancelled terminal event, got %s", final.Kind)
	}
	for _, ev := range collected {
		if ev.Kind == model.EventFinished {
			t.Error("Expected no Finished event after cancellation")
		}
	}

	snapshot, _ := svc.Job(job.ID)
	if snapshot.Status != model.JobStatusCancelled {
		t.Errorf("Expected status Cancelled, got %s", snapshot.Status)
	}

	// Temp files are cleaned up on cancellation
	matches, err := afero.Glob(fs, "/tmp/hls-job-*")
	if err == nil && len(matches) != 0 {
		t.Errorf("Expected temp dirs removed, found %v", matches)
	}

	// A second cancel is rejected: the job is already terminal
	if err := svc.Cancel(job.ID); err == nil {
		t.Error("Expected error cancelling a finished job")
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc := newEngine(afero.NewMemMapFs())

	if _, _, err := svc.Submit(model.JobRequest{}); err == nil {
		t.Error("Expected error for missing URL")
	}

	if _, _, err := svc.Submit(model.JobRequest{URL: "http://x"}); err == nil {
		t.Error("Expected error for missing file name")
	}

	_, _, err := svc.Submit(model.JobRequest{
		URL:    "http://x",
		Output: model.OutputSpec{FileName: "f", Directory: "/out", Format: "avi"},
	})
	if err == nil {
		t.Error("Expected error for unsupported format")
	}

	if err := svc.Cancel("no-such-job"); err == nil {
		t.Error("Expected error cancelling unknown job")
	}
}

func TestRunStateReleasedAfterTerminal(t *testing.T) {
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:5,\nseg0.ts\n"))
	})
	handler.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("S0|"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	job, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFinished {
		t.Fatalf("Expected Finished, got %s", final.Kind)
	}

	// The snapshot stays queryable while the run machinery is released
	snapshot, exists := svc.Job(job.ID)
	if !exists || snapshot.Status != model.JobStatusFinished {
		t.Fatalf("Expected a Finished snapshot, got %v (exists=%v)", snapshot.Status, exists)
	}

	svc.jobsMutex.RLock()
	js := svc.jobs[job.ID]
	svc.jobsMutex.RUnlock()

	js.mu.Lock()
	defer js.mu.Unlock()
	if js.limiter != nil {
		t.Error("Expected limiter to be released after the terminal event")
	}
	if js.keys != nil {
		t.Error("Expected key cache to be released after the terminal event")
	}
	if js.segments != nil {
		t.Error("Expected segment states to be released after the terminal event")
	}
}

func TestSubmit_EmptyPlaylistFailsWithoutRetry(t *testing.T) {
	var hits int32
	handler := http.NewServeMux()
	handler.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n"))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	fs := afero.NewMemMapFs()
	svc := newEngine(fs)

	_, events, err := svc.Submit(model.JobRequest{
		URL:         server.URL + "/index.m3u8",
		Output:      model.OutputSpec{FileName: "out", Directory: "/out", Format: model.FormatTS},
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	final := lastEvent(drainEvents(events))
	if final.Kind != model.EventFailed {
		t.Fatalf("Expected Failed for empty playlist, got %s", final.Kind)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("Expected a single resolve fetch (no retry), got %d", got)
	}
}

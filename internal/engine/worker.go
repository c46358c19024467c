package engine

import (
	"context"

	"github.com/ytget/hls-downloader/internal/crypt"
	"github.com/ytget/hls-downloader/internal/model"
)

// Fetcher is the HTTP capability workers download segments with
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// worker executes one attempt for one segment: download, verify, decrypt.
// A worker borrows exactly one segment slot for its lifetime; it never
// shares a slot with another worker.
type worker struct {
	fetcher Fetcher
	keys    *crypt.KeyCache
}

// run downloads and, when the descriptor carries a key, decrypts one
// segment, reporting phase transitions through setStatus. It returns the
// final plaintext bytes ready for the segment's slot.
func (w *worker) run(ctx context.Context, desc model.SegmentDescriptor, setStatus func(model.SegmentStatus)) ([]byte, error) {
	setStatus(model.SegmentStatusDownloading)

	body, err := w.fetcher.Get(ctx, desc.URI)
	if err != nil {
		return nil, err
	}

	if !desc.Encrypted() {
		return body, nil
	}

	setStatus(model.SegmentStatusDecrypting)

	keyBytes, err := w.keys.Get(ctx, desc.Key.URI)
	if err != nil {
		return nil, err
	}

	iv := desc.Key.IV
	if len(iv) == 0 {
		iv = crypt.DeriveIV(desc.Sequence)
	}

	plaintext, err := crypt.Decrypt(body, keyBytes, iv)
	if err != nil {
		return nil, err
	}

	return crypt.AlignSyncByte(plaintext), nil
}

package playlist

import (
	"context"
	"fmt"
	"net/url"

	"github.com/samber/lo"

	"github.com/ytget/hls-downloader/internal/fetch"
	"github.com/ytget/hls-downloader/internal/model"
)

// MaxVariantDepth bounds master playlist recursion so that playlists
// referencing each other cannot loop the resolver
const MaxVariantDepth = 4

// Variant is one EXT-X-STREAM-INF entry of a master playlist
type Variant struct {
	// Bandwidth is the declared peak bitrate in bits per second
	Bandwidth int64
	// URI is the absolute media playlist URL
	URI string
}

// Resolver fetches playlist text and produces an ordered segment manifest.
// Master playlists are resolved to exactly one media playlist by selecting
// the highest-bandwidth variant before any segment is scheduled.
type Resolver struct {
	client *fetch.Client
}

// NewResolver creates a resolver using the given fetch client
func NewResolver(client *fetch.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve fetches entryURL and returns the segment manifest. Apart from the
// network fetches it is a pure function of the fetched bytes.
func (r *Resolver) Resolve(ctx context.Context, entryURL string) (*model.Manifest, error) {
	return r.resolve(ctx, entryURL, 0)
}

func (r *Resolver) resolve(ctx context.Context, entryURL string, depth int) (*model.Manifest, error) {
	if depth > MaxVariantDepth {
		return nil, fmt.Errorf("resolve %s: %w", entryURL, ErrTooManyVariantLevels)
	}

	base, err := url.Parse(entryURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w: %v", entryURL, ErrMalformedPlaylist, err)
	}

	body, err := r.client.Get(ctx, entryURL)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", entryURL, err)
	}

	text := string(body)
	if !isExtM3U(text) {
		return nil, fmt.Errorf("resolve %s: %w: missing #EXTM3U header", entryURL, ErrMalformedPlaylist)
	}

	if isMaster(text) {
		variants, err := parseMaster(text, base)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", entryURL, err)
		}
		if len(variants) == 0 {
			return nil, fmt.Errorf("resolve %s: %w", entryURL, ErrNoVariants)
		}
		best := lo.MaxBy(variants, func(a Variant, b Variant) bool {
			return a.Bandwidth > b.Bandwidth
		})
		return r.resolve(ctx, best.URI, depth+1)
	}

	manifest, err := parseMedia(text, base)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", entryURL, err)
	}
	if manifest.Total() == 0 {
		return nil, fmt.Errorf("resolve %s: %w", entryURL, ErrEmptyPlaylist)
	}
	manifest.URL = entryURL
	return manifest, nil
}

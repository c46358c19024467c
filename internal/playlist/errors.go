package playlist

import "errors"

// Resolve errors are fatal to the job: re-fetching an unparseable playlist
// will not fix it, so the scheduler never retries them.
var (
	// ErrMalformedPlaylist means the fetched text is not a usable playlist
	ErrMalformedPlaylist = errors.New("malformed playlist")

	// ErrNoVariants means a master playlist declared zero variant streams
	ErrNoVariants = errors.New("master playlist has no variants")

	// ErrEmptyPlaylist means a media playlist yielded zero segments
	ErrEmptyPlaylist = errors.New("media playlist has no segments")

	// ErrUnsupportedKeyMethod means an EXT-X-KEY method other than NONE or
	// AES-128 was declared
	ErrUnsupportedKeyMethod = errors.New("unsupported encryption method")

	// ErrTooManyVariantLevels means master playlists nested deeper than
	// MaxVariantDepth
	ErrTooManyVariantLevels = errors.New("too many nested master playlists")
)

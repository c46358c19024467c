package playlist

// Package playlist resolves an HLS entry URL into an ordered segment
// manifest: it fetches playlist text, detects master vs media playlists,
// selects the highest-bandwidth variant, expands relative URIs and tracks
// EXT-X-KEY directives across segments.

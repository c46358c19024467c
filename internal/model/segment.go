package model

// Encryption method constants as they appear in EXT-X-KEY directives
const (
	EncryptionMethodNone   = "NONE"
	EncryptionMethodAES128 = "AES-128"
)

// KeyLength is the required AES-128 key and IV size in bytes
const KeyLength = 16

// EncryptionKey describes the key material reference for a run of segments.
// Key bytes themselves are fetched lazily and cached per job by key URI.
type EncryptionKey struct {
	// Method is the encryption method (only AES-128 is supported)
	Method string
	// URI is the absolute URL of the 16-byte key file
	URI string
	// IV is the explicit initialization vector, nil when the IV must be
	// derived from the segment's media sequence number
	IV []byte
}

// SegmentDescriptor describes one media segment from a resolved playlist
type SegmentDescriptor struct {
	// Index is the dense 0-based position defining final output order
	Index int
	// Sequence is the HLS media sequence number (Index plus the playlist's
	// EXT-X-MEDIA-SEQUENCE offset); it feeds IV derivation for keyed segments
	Sequence uint64
	// URI is the absolute segment URL
	URI string
	// Duration is the declared segment duration in seconds
	Duration float64
	// Key is the encryption key in effect for this segment, nil when clear
	Key *EncryptionKey
}

// Encrypted returns true when the segment requires decryption
func (sd *SegmentDescriptor) Encrypted() bool {
	return sd.Key != nil && sd.Key.Method == EncryptionMethodAES128
}

// SegmentState tracks one segment's descriptor together with its lifecycle
type SegmentState struct {
	Descriptor SegmentDescriptor
	Status     SegmentStatus
	// Attempts counts started download attempts for this segment
	Attempts int
	// LastError holds the most recent failure message, if any
	LastError string
	// SlotPath is the temp file holding the segment plaintext once Ready
	SlotPath string
}

// Manifest is the ordered segment list produced by the playlist resolver
type Manifest struct {
	// URL is the media playlist the manifest was resolved from
	URL string
	// MediaSequence is the playlist's EXT-X-MEDIA-SEQUENCE offset
	MediaSequence uint64
	// Segments are in dense ascending index order starting at 0
	Segments []SegmentDescriptor
	// Encrypted reports whether any segment carries key material
	Encrypted bool
}

// Total returns the number of segments in the manifest
func (m *Manifest) Total() int {
	return len(m.Segments)
}

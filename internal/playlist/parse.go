package playlist

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ytget/hls-downloader/internal/model"
)

// Playlist directive prefixes
const (
	TagExtM3U         = "#EXTM3U"
	TagStreamInf      = "#EXT-X-STREAM-INF:"
	TagExtInf         = "#EXTINF:"
	TagKey            = "#EXT-X-KEY:"
	TagMediaSequence  = "#EXT-X-MEDIA-SEQUENCE:"
	AttrBandwidth     = "BANDWIDTH"
	AttrMethod        = "METHOD"
	AttrURI           = "URI"
	AttrIV            = "IV"
	IVHexPrefix       = "0x"
	ExpectedIVHexSize = model.KeyLength * 2
)

// isExtM3U reports whether the text carries the mandatory playlist header
func isExtM3U(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), TagExtM3U)
}

// isMaster reports whether the playlist lists variant streams rather than
// media segments
func isMaster(text string) bool {
	return strings.Contains(text, TagStreamInf)
}

// parseMaster walks a master playlist and returns its variants with URIs
// resolved against base
func parseMaster(text string, base *url.URL) ([]Variant, error) {
	var variants []Variant
	var pending *Variant

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, TagStreamInf) {
			attrs := parseAttributes(strings.TrimPrefix(line, TagStreamInf))
			bandwidth, err := strconv.ParseInt(attrs[AttrBandwidth], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad BANDWIDTH in %q", ErrMalformedPlaylist, line)
			}
			pending = &Variant{Bandwidth: bandwidth}
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		// A bare URI line closes the preceding EXT-X-STREAM-INF directive
		if pending != nil {
			abs, err := resolveURI(base, line)
			if err != nil {
				return nil, err
			}
			pending.URI = abs
			variants = append(variants, *pending)
			pending = nil
		}
	}

	return variants, nil
}

// parseMedia walks a media playlist and returns the ordered manifest.
// EXT-X-KEY directives apply to all subsequent segments until superseded or
// cleared with METHOD=NONE.
func parseMedia(text string, base *url.URL) (*model.Manifest, error) {
	manifest := &model.Manifest{}
	var currentKey *model.EncryptionKey
	var duration float64

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, TagMediaSequence):
			seq, err := strconv.ParseUint(strings.TrimPrefix(line, TagMediaSequence), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad media sequence in %q", ErrMalformedPlaylist, line)
			}
			manifest.MediaSequence = seq

		case strings.HasPrefix(line, TagKey):
			key, err := parseKey(strings.TrimPrefix(line, TagKey), base)
			if err != nil {
				return nil, err
			}
			currentKey = key

		case strings.HasPrefix(line, TagExtInf):
			spec := strings.TrimPrefix(line, TagExtInf)
			if idx := strings.Index(spec, ","); idx >= 0 {
				spec = spec[:idx]
			}
			if d, err := strconv.ParseFloat(strings.TrimSpace(spec), 64); err == nil {
				duration = d
			}

		case strings.HasPrefix(line, "#"):
			// Other directives do not affect scheduling

		default:
			abs, err := resolveURI(base, line)
			if err != nil {
				return nil, err
			}
			index := len(manifest.Segments)
			desc := model.SegmentDescriptor{
				Index:    index,
				Sequence: manifest.MediaSequence + uint64(index),
				URI:      abs,
				Duration: duration,
			}
			if currentKey != nil && currentKey.Method == model.EncryptionMethodAES128 {
				desc.Key = currentKey
				manifest.Encrypted = true
			}
			manifest.Segments = append(manifest.Segments, desc)
			duration = 0
		}
	}

	return manifest, nil
}

// parseKey parses an EXT-X-KEY attribute list. METHOD=NONE returns a key
// that clears encryption for following segments.
func parseKey(attrList string, base *url.URL) (*model.EncryptionKey, error) {
	attrs := parseAttributes(attrList)

	switch attrs[AttrMethod] {
	case model.EncryptionMethodNone:
		return &model.EncryptionKey{Method: model.EncryptionMethodNone}, nil

	case model.EncryptionMethodAES128:
		uri := attrs[AttrURI]
		if uri == "" {
			return nil, fmt.Errorf("%w: EXT-X-KEY without URI", ErrMalformedPlaylist)
		}
		abs, err := resolveURI(base, uri)
		if err != nil {
			return nil, err
		}
		key := &model.EncryptionKey{Method: model.EncryptionMethodAES128, URI: abs}

		if ivHex, ok := attrs[AttrIV]; ok {
			ivHex = strings.TrimPrefix(ivHex, IVHexPrefix)
			if len(ivHex) != ExpectedIVHexSize {
				return nil, fmt.Errorf("%w: IV must be %d hex digits, got %q", ErrMalformedPlaylist, ExpectedIVHexSize, ivHex)
			}
			iv, err := hex.DecodeString(ivHex)
			if err != nil {
				return nil, fmt.Errorf("%w: bad IV %q: %v", ErrMalformedPlaylist, ivHex, err)
			}
			key.IV = iv
		}
		return key, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyMethod, attrs[AttrMethod])
	}
}

// parseAttributes splits an HLS attribute list into a map, honoring quoted
// values that may contain commas
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)
	var key strings.Builder
	var value strings.Builder
	inValue := false
	inQuotes := false

	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			attrs[k] = value.String()
		}
		key.Reset()
		value.Reset()
		inValue = false
	}

	for _, r := range list {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == '=' && !inValue:
			inValue = true
		case r == ',' && !inQuotes:
			flush()
		case inValue:
			value.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
	flush()

	return attrs
}

// resolveURI resolves ref against base, supporting both absolute and
// relative segment references
func resolveURI(base *url.URL, ref string) (string, error) {
	parsed, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("%w: bad URI %q: %v", ErrMalformedPlaylist, ref, err)
	}
	return parsed.String(), nil
}

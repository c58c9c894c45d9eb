// Package mediatype maps file extensions to media content types.
// It is the single source of truth for every response path; the storage
// backend frequently reports application/octet-stream for audio objects.
package mediatype

import (
	"path"
	"strings"
)

var byExtension = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".ts":   "video/mp2t",
	".m3u":  "audio/x-mpegurl",
	".m3u8": "application/vnd.apple.mpegurl",
}

// Manifest is the content type of HLS manifests served by the gateway.
const Manifest = "application/vnd.apple.mpegurl"

// ForKey returns the content type for a storage key based on its extension,
// or "" when the extension is unknown.
func ForKey(key string) string {
	return byExtension[strings.ToLower(path.Ext(key))]
}

// Resolve picks the effective content type for a response: the upstream
// value wins unless it is missing or a generic octet-stream, in which case
// the extension-derived type is used. Falls back to octet-stream.
func Resolve(upstream, key string) string {
	if upstream != "" && upstream != "application/octet-stream" && upstream != "binary/octet-stream" {
		return upstream
	}
	if ct := ForKey(key); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package media

import (
	"fmt"
	"strings"
)

// Kind distinguishes photos from videos for policy lookups.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Supported MIME types.
const (
	MIMEJPEG      = "image/jpeg"
	MIMEPNG       = "image/png"
	MIMEGIF       = "image/gif"
	MIMEWebP      = "image/webp"
	MIMEHEIC      = "image/heic"
	MIMEMP4       = "video/mp4"
	MIMEQuickTime = "video/quicktime"
	MIMEWebM      = "video/webm"
)

var kindByMIME = map[string]Kind{
	MIMEJPEG:      KindPhoto,
	MIMEPNG:       KindPhoto,
	MIMEGIF:       KindPhoto,
	MIMEWebP:      KindPhoto,
	MIMEHEIC:      KindPhoto,
	MIMEMP4:       KindVideo,
	MIMEQuickTime: KindVideo,
	MIMEWebM:      KindVideo,
}

var extensionsByMIME = map[string][]string{
	MIMEJPEG:      {".jpg", ".jpeg", ".jfif"},
	MIMEPNG:       {".png"},
	MIMEGIF:       {".gif"},
	MIMEWebP:      {".webp"},
	MIMEHEIC:      {".heic", ".heif"},
	MIMEMP4:       {".mp4", ".m4v"},
	MIMEQuickTime: {".mov", ".qt"},
	MIMEWebM:      {".webm"},
}

// ParseKind maps the capture-kind flag sent by clients.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindPhoto:
		return KindPhoto, nil
	case KindVideo:
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", raw)
	}
}

// NormalizeMIME strips parameters and lowercases a Content-Type value.
func NormalizeMIME(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// KindOf returns the media kind for a supported MIME type.
func KindOf(mime string) (Kind, bool) {
	k, ok := kindByMIME[NormalizeMIME(mime)]
	return k, ok
}

// Extensions lists the filename extensions conventionally used for mime.
func Extensions(mime string) []string {
	return extensionsByMIME[NormalizeMIME(mime)]
}

// PrimaryExtension is used when naming stored objects.
func PrimaryExtension(mime string) string {
	exts := Extensions(mime)
	if len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

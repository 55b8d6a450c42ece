package validate

import (
	"bytes"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/your-org/guestlens/internal/media"
)

var executableExtensions = []string{
	".exe", ".dll", ".bat", ".cmd", ".com", ".scr", ".msi", ".ps1", ".vbs",
	".js", ".jar", ".sh", ".php", ".py", ".pl", ".cgi", ".html", ".htm", ".svg",
	".apk", ".app", ".elf", ".so", ".dylib",
}

// minPlausibleBytes is the smallest payload a real capture of each kind
// could plausibly be.
var minPlausibleBytes = map[media.Kind]int64{
	media.KindPhoto: 512,
	media.KindVideo: 4096,
}

// markupScanWindow bounds how much of an image is searched for markup.
const markupScanWindow = 64 << 10

var markupMarkers = [][]byte{
	[]byte("<script"), []byte("<?php"), []byte("<html"), []byte("<iframe"), []byte("javascript:"),
}

// PatternScanner flags disguised or malformed uploads. Its findings are
// warnings and never block acceptance.
type PatternScanner struct{}

// NewPatternScanner returns a scanner.
func NewPatternScanner() *PatternScanner {
	return &PatternScanner{}
}

// Scan returns the warnings for c.
func (s *PatternScanner) Scan(c *media.Candidate) []*media.Error {
	var warns []*media.Error
	warns = append(warns, s.scanFilename(c.Filename, c.DeclaredMIME)...)

	if c.DeclaredSize > 0 && c.DeclaredSize != c.Size() {
		warns = append(warns, media.Warning(media.CodeSizeMismatch,
			"declared size %d differs from received size %d", c.DeclaredSize, c.Size()))
	}
	if kind, ok := media.KindOf(c.DeclaredMIME); ok {
		if floor := minPlausibleBytes[kind]; c.Size() > 0 && c.Size() < floor {
			warns = append(warns, media.Warning(media.CodeImplausibleSize,
				"%d bytes is implausibly small for a %s", c.Size(), kind))
		}
		if kind == media.KindPhoto && containsMarkup(c.Bytes) {
			warns = append(warns, media.Warning(media.CodeEmbeddedMarkup,
				"image contains script or markup text"))
		}
	}
	return warns
}

func (s *PatternScanner) scanFilename(name, declared string) []*media.Error {
	if name == "" {
		return nil
	}
	var warns []*media.Error
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		warns = append(warns, media.Warning(media.CodeControlCharacters,
			"filename contains control characters"))
	}

	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	lower := strings.ToLower(strings.TrimRight(base, ". "))
	ext := filepath.Ext(lower)

	// Any executable-looking segment counts, so "photo.exe.jpg" is caught too.
	parts := strings.Split(lower, ".")
	for _, p := range parts[1:] {
		if slices.Contains(executableExtensions, "."+p) {
			warns = append(warns, media.Warning(media.CodeExecutableExtension,
				"filename has executable extension .%s", p))
			break
		}
	}
	if strings.Count(strings.TrimLeft(lower, "."), ".") > 1 {
		warns = append(warns, media.Warning(media.CodeMultipleExtensions,
			"filename %q has multiple extensions", base))
	}
	if ext != "" {
		if exts := media.Extensions(declared); len(exts) > 0 && !slices.Contains(exts, ext) {
			warns = append(warns, media.Warning(media.CodeExtensionMismatch,
				"extension %s does not match declared type %s", ext, media.NormalizeMIME(declared)))
		}
	}
	return warns
}

// containsMarkup searches the head and tail of data, where polyglot payloads
// are usually placed.
func containsMarkup(data []byte) bool {
	if len(data) <= 2*markupScanWindow {
		return hasMarker(data)
	}
	return hasMarker(data[:markupScanWindow]) || hasMarker(data[len(data)-markupScanWindow:])
}

func hasMarker(data []byte) bool {
	lower := bytes.ToLower(data)
	for _, m := range markupMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

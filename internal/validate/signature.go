package validate

import (
	"bytes"

	"github.com/your-org/guestlens/internal/media"
)

// SignaturePrefixLen is the number of leading bytes the signature check needs.
const SignaturePrefixLen = 16

// signature matches a byte pattern at a fixed offset.
type signature struct {
	offset  int
	pattern []byte
}

func (s signature) match(prefix []byte) bool {
	end := s.offset + len(s.pattern)
	return len(prefix) >= end && bytes.Equal(prefix[s.offset:end], s.pattern)
}

// rule is satisfied when every signature in all matches and, if brands is
// set, the ISO-BMFF major brand is one of them.
type rule struct {
	all       []signature
	brands    [][]byte
	notBrands [][]byte
}

func (r rule) match(prefix []byte) bool {
	for _, s := range r.all {
		if !s.match(prefix) {
			return false
		}
	}
	if len(r.brands) == 0 && len(r.notBrands) == 0 {
		return true
	}
	if len(prefix) < 12 {
		return false
	}
	brand := prefix[8:12]
	for _, b := range r.notBrands {
		if bytes.Equal(brand, b) {
			return false
		}
	}
	if len(r.brands) == 0 {
		return true
	}
	for _, b := range r.brands {
		if bytes.Equal(brand, b) {
			return true
		}
	}
	return false
}

var ftyp = signature{offset: 4, pattern: []byte("ftyp")}

var heifBrands = [][]byte{
	[]byte("heic"), []byte("heix"), []byte("hevc"), []byte("hevx"),
	[]byte("heim"), []byte("heis"), []byte("mif1"), []byte("msf1"), []byte("avif"),
}

// signatureTable lists, per declared type, the prefixes that identify it.
// A declared type absent from the table is rejected outright.
var signatureTable = map[string][]rule{
	media.MIMEJPEG: {
		{all: []signature{{0, []byte{0xFF, 0xD8, 0xFF}}}},
	},
	media.MIMEPNG: {
		{all: []signature{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}}},
	},
	media.MIMEGIF: {
		{all: []signature{{0, []byte("GIF87a")}}},
		{all: []signature{{0, []byte("GIF89a")}}},
	},
	media.MIMEWebP: {
		{all: []signature{{0, []byte("RIFF")}, {8, []byte("WEBP")}}},
	},
	media.MIMEHEIC: {
		{all: []signature{ftyp}, brands: heifBrands},
	},
	media.MIMEMP4: {
		{all: []signature{ftyp}, notBrands: heifBrands},
	},
	media.MIMEQuickTime: {
		{all: []signature{ftyp}, notBrands: heifBrands},
		{all: []signature{{4, []byte("moov")}}},
		{all: []signature{{4, []byte("mdat")}}},
		{all: []signature{{4, []byte("wide")}}},
		{all: []signature{{4, []byte("free")}}},
	},
	media.MIMEWebM: {
		{all: []signature{{0, []byte{0x1A, 0x45, 0xDF, 0xA3}}}},
	},
}

// sniffOrder fixes the order Sniff tries types in; QuickTime's loose rules
// come after MP4 so an ftyp file sniffs as MP4.
var sniffOrder = []string{
	media.MIMEJPEG, media.MIMEPNG, media.MIMEGIF, media.MIMEWebP,
	media.MIMEHEIC, media.MIMEMP4, media.MIMEQuickTime, media.MIMEWebM,
}

// SignatureValidator compares a file's leading bytes with the magic numbers of
// its declared type, defending against payloads renamed with a media extension.
type SignatureValidator struct{}

// NewSignatureValidator returns a validator over the built-in signature table.
func NewSignatureValidator() *SignatureValidator {
	return &SignatureValidator{}
}

// Supported reports whether declared has an entry in the signature table.
func (v *SignatureValidator) Supported(declared string) bool {
	_, ok := signatureTable[media.NormalizeMIME(declared)]
	return ok
}

// Validate checks prefix against declared. Only the first SignaturePrefixLen
// bytes are inspected regardless of how many are passed.
func (v *SignatureValidator) Validate(prefix []byte, declared string) *media.Error {
	declared = media.NormalizeMIME(declared)
	rules, ok := signatureTable[declared]
	if !ok {
		return media.Validationf(media.CodeUnsupportedType, "unsupported media type %q", declared)
	}
	if len(prefix) > SignaturePrefixLen {
		prefix = prefix[:SignaturePrefixLen]
	}
	for _, r := range rules {
		if r.match(prefix) {
			return nil
		}
	}
	if detected := Sniff(prefix); detected != "" {
		return media.Validationf(media.CodeSignatureMismatch,
			"file content is %s but was declared as %s", detected, declared)
	}
	return media.Validationf(media.CodeSignatureMismatch,
		"file content does not match declared type %s", declared)
}

// Sniff returns the first supported type whose signature matches prefix, or
// the empty string.
func Sniff(prefix []byte) string {
	if len(prefix) > SignaturePrefixLen {
		prefix = prefix[:SignaturePrefixLen]
	}
	for _, mime := range sniffOrder {
		for _, r := range signatureTable[mime] {
			if r.match(prefix) {
				return mime
			}
		}
	}
	return ""
}

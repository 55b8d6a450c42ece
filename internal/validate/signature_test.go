package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/mediatest"
)

func validSamples() map[string][]byte {
	return map[string][]byte{
		media.MIMEJPEG:      mediatest.JPEG(8, 8),
		media.MIMEPNG:       mediatest.PNG(8, 8),
		media.MIMEGIF:       []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00"),
		media.MIMEWebP:      []byte("RIFF\x24\x00\x00\x00WEBPVP8 "),
		media.MIMEHEIC:      []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"),
		media.MIMEMP4:       mediatest.MP4(64, 64, time.Second),
		media.MIMEQuickTime: []byte("\x00\x00\x00\x14ftypqt  \x00\x00\x00\x00"),
		media.MIMEWebM:      mediatest.WebM(64, 64, time.Second),
	}
}

func TestSignatureValidatorAcceptsMatchingPrefixes(t *testing.T) {
	v := NewSignatureValidator()
	for mime, data := range validSamples() {
		t.Run(mime, func(t *testing.T) {
			assert.Nil(t, v.Validate(data, mime))
		})
	}
}

func TestSignatureValidatorRejectsMismatchedPrefixes(t *testing.T) {
	v := NewSignatureValidator()
	samples := validSamples()
	for declared := range samples {
		for actual, data := range samples {
			if declared == actual || compatible(declared, actual) {
				continue
			}
			err := v.Validate(data, declared)
			require.NotNil(t, err, "%s bytes declared as %s", actual, declared)
			assert.Equal(t, media.CodeSignatureMismatch, err.Code)
			assert.Equal(t, media.ErrValidation, err.Kind)
		}
	}
}

// compatible pairs share a container and are told apart only by brand.
func compatible(a, b string) bool {
	iso := map[string]bool{media.MIMEMP4: true, media.MIMEQuickTime: true}
	return iso[a] && iso[b]
}

func TestSignatureValidatorRejectsDisguisedExecutable(t *testing.T) {
	v := NewSignatureValidator()
	payload := append([]byte("MZ\x90\x00\x03\x00\x00\x00"), make([]byte, 4096)...)

	err := v.Validate(payload, "image/jpeg")

	require.NotNil(t, err)
	assert.Equal(t, media.CodeSignatureMismatch, err.Code)
}

func TestSignatureValidatorRejectsUnknownDeclaredType(t *testing.T) {
	v := NewSignatureValidator()

	err := v.Validate(mediatest.JPEG(8, 8), "application/x-msdownload")

	require.NotNil(t, err)
	assert.Equal(t, media.CodeUnsupportedType, err.Code)
	assert.False(t, v.Supported("application/x-msdownload"))
	assert.True(t, v.Supported("image/JPEG; charset=binary"))
}

func TestSignatureValidatorShortInput(t *testing.T) {
	v := NewSignatureValidator()

	require.NotNil(t, v.Validate([]byte{0xFF, 0xD8}, media.MIMEJPEG))
	require.NotNil(t, v.Validate(nil, media.MIMEPNG))
}

func TestSignatureValidatorOnlyReadsPrefix(t *testing.T) {
	v := NewSignatureValidator()
	data := mediatest.JPEG(8, 8)
	// Corrupting everything past the prefix must not change the verdict.
	for i := SignaturePrefixLen; i < len(data); i++ {
		data[i] = 0
	}
	assert.Nil(t, v.Validate(data, media.MIMEJPEG))
}

func TestSniff(t *testing.T) {
	assert.Equal(t, media.MIMEPNG, Sniff(mediatest.PNG(4, 4)))
	assert.Equal(t, media.MIMEMP4, Sniff(mediatest.MP4(16, 16, time.Second)))
	assert.Equal(t, media.MIMEWebM, Sniff(mediatest.WebM(16, 16, time.Second)))
	assert.Empty(t, Sniff([]byte("#!/bin/sh\n")))
}

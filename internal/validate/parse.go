package validate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"time"

	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/your-org/guestlens/internal/media"
)

// MediaInfo carries the properties a parser could measure.
type MediaInfo struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Parser measures decoded properties of a media payload.
type Parser func(data []byte) (MediaInfo, error)

// errNoVideoTrack is returned by container parsers that find no picture track.
var errNoVideoTrack = errors.New("no video track")

func defaultParsers() map[string]Parser {
	return map[string]Parser{
		media.MIMEJPEG:      parseImage,
		media.MIMEPNG:       parseImage,
		media.MIMEGIF:       parseImage,
		media.MIMEWebP:      parseImage,
		media.MIMEHEIC:      parseHEIF,
		media.MIMEMP4:       parseBMFF,
		media.MIMEQuickTime: parseBMFF,
		media.MIMEWebM:      parseWebM,
	}
}

// parseImage reads only the image header, never the pixel data.
func parseImage(data []byte) (MediaInfo, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return MediaInfo{}, fmt.Errorf("decode image config: %w", err)
	}
	return MediaInfo{Width: cfg.Width, Height: cfg.Height}, nil
}

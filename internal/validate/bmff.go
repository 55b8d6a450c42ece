package validate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ISO base media file format (MP4, QuickTime, HEIF) box walking. Only the
// boxes that carry duration and picture size are read.

var errTruncatedBox = errors.New("truncated box")

type box struct {
	typ     string
	payload []byte
}

// walkBoxes calls fn for each box in data. fn returning false stops the walk.
func walkBoxes(data []byte, fn func(b box) bool) error {
	for len(data) > 0 {
		if len(data) < 8 {
			return errTruncatedBox
		}
		size := uint64(binary.BigEndian.Uint32(data[0:4]))
		typ := string(data[4:8])
		header := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data))
		case 1:
			if len(data) < 16 {
				return errTruncatedBox
			}
			size = binary.BigEndian.Uint64(data[8:16])
			header = 16
		}
		if size < header || size > uint64(len(data)) {
			return fmt.Errorf("box %q: %w", typ, errTruncatedBox)
		}
		if !fn(box{typ: typ, payload: data[header:size]}) {
			return nil
		}
		data = data[size:]
	}
	return nil
}

// findBox returns the payload of the first direct child named typ.
func findBox(data []byte, typ string) ([]byte, bool) {
	var found []byte
	ok := false
	_ = walkBoxes(data, func(b box) bool {
		if b.typ == typ {
			found, ok = b.payload, true
			return false
		}
		return true
	})
	return found, ok
}

// parseBMFF reads picture size from the largest tkhd in moov. Duration is the
// longest of the mvhd duration and, per track, the mdhd duration and the sum
// of the stts sample deltas, so an understated movie header is not trusted.
func parseBMFF(data []byte) (MediaInfo, error) {
	var moov []byte
	var found bool
	err := walkBoxes(data, func(b box) bool {
		if b.typ == "moov" {
			moov, found = b.payload, true
			return false
		}
		return true
	})
	if !found {
		if err != nil {
			return MediaInfo{}, err
		}
		return MediaInfo{}, errors.New("moov box not found")
	}

	var res MediaInfo
	mvhd, ok := findBox(moov, "mvhd")
	if !ok {
		return MediaInfo{}, errors.New("mvhd box not found")
	}
	timescale, ticks, err := parseTimeHeader(mvhd)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("mvhd: %w", err)
	}
	res.Duration = ticksToDuration(ticks, timescale)

	err = walkBoxes(moov, func(b box) bool {
		if b.typ != "trak" {
			return true
		}
		res.Duration = max(res.Duration, trackDuration(b.payload))
		tkhd, ok := findBox(b.payload, "tkhd")
		if !ok {
			return true
		}
		w, h, perr := parseTkhd(tkhd)
		if perr != nil {
			return true
		}
		if w*h > res.Width*res.Height {
			res.Width, res.Height = w, h
		}
		return true
	})
	if err != nil {
		return MediaInfo{}, err
	}
	if res.Width == 0 && res.Height == 0 {
		return res, errNoVideoTrack
	}
	return res, nil
}

// trackDuration measures a trak from its media header and sample table.
// Missing or malformed boxes contribute zero.
func trackDuration(trak []byte) time.Duration {
	mdia, ok := findBox(trak, "mdia")
	if !ok {
		return 0
	}
	mdhd, ok := findBox(mdia, "mdhd")
	if !ok {
		return 0
	}
	timescale, ticks, err := parseTimeHeader(mdhd)
	if err != nil {
		return 0
	}
	d := ticksToDuration(ticks, timescale)

	minf, ok := findBox(mdia, "minf")
	if !ok {
		return d
	}
	stbl, ok := findBox(minf, "stbl")
	if !ok {
		return d
	}
	if stts, ok := findBox(stbl, "stts"); ok {
		d = max(d, ticksToDuration(sampleTicks(stts), timescale))
	}
	return d
}

// sampleTicks sums sample_count*sample_delta over the stts entries present.
func sampleTicks(stts []byte) uint64 {
	if len(stts) < 8 {
		return 0
	}
	entries := uint64(binary.BigEndian.Uint32(stts[4:8]))
	body := stts[8:]
	entries = min(entries, uint64(len(body)/8))

	var total uint64
	for i := uint64(0); i < entries; i++ {
		count := uint64(binary.BigEndian.Uint32(body[i*8 : i*8+4]))
		delta := uint64(binary.BigEndian.Uint32(body[i*8+4 : i*8+8]))
		n := count * delta
		if total > math.MaxUint64-n {
			return math.MaxUint64
		}
		total += n
	}
	return total
}

// parseTimeHeader reads timescale and duration from an mvhd or mdhd payload;
// both share the same leading layout.
func parseTimeHeader(p []byte) (uint32, uint64, error) {
	if len(p) < 4 {
		return 0, 0, errTruncatedBox
	}
	var timescale uint32
	var duration uint64
	switch p[0] {
	case 0:
		if len(p) < 20 {
			return 0, 0, errTruncatedBox
		}
		timescale = binary.BigEndian.Uint32(p[12:16])
		duration = uint64(binary.BigEndian.Uint32(p[16:20]))
	case 1:
		if len(p) < 32 {
			return 0, 0, errTruncatedBox
		}
		timescale = binary.BigEndian.Uint32(p[20:24])
		duration = binary.BigEndian.Uint64(p[24:32])
	default:
		return 0, 0, fmt.Errorf("unsupported header version %d", p[0])
	}
	if timescale == 0 {
		return 0, 0, errors.New("timescale is zero")
	}
	return timescale, duration, nil
}

// ticksToDuration saturates rather than wrapping on absurd tick counts.
func ticksToDuration(ticks uint64, timescale uint32) time.Duration {
	secs := ticks / uint64(timescale)
	if secs >= uint64(math.MaxInt64/int64(time.Second)) {
		return time.Duration(math.MaxInt64)
	}
	rem := ticks % uint64(timescale)
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(timescale)
}

// parseTkhd returns the presentation size, stored as 16.16 fixed point.
func parseTkhd(p []byte) (int, int, error) {
	if len(p) < 4 {
		return 0, 0, errTruncatedBox
	}
	var off int
	switch p[0] {
	case 0:
		off = 4 + 4 + 4 + 4 + 4 + 4 + 8 + 2 + 2 + 2 + 2 + 36
	case 1:
		off = 4 + 8 + 8 + 4 + 4 + 8 + 8 + 2 + 2 + 2 + 2 + 36
	default:
		return 0, 0, fmt.Errorf("unsupported tkhd version %d", p[0])
	}
	if len(p) < off+8 {
		return 0, 0, errTruncatedBox
	}
	w := binary.BigEndian.Uint32(p[off : off+4])
	h := binary.BigEndian.Uint32(p[off+4 : off+8])
	return int(w >> 16), int(h >> 16), nil
}

// parseHEIF reads the image spatial extent (ispe) property of a HEIF still.
func parseHEIF(data []byte) (MediaInfo, error) {
	meta, ok := findBox(data, "meta")
	if !ok {
		return MediaInfo{}, errors.New("meta box not found")
	}
	if len(meta) < 4 {
		return MediaInfo{}, errTruncatedBox
	}
	iprp, ok := findBox(meta[4:], "iprp")
	if !ok {
		return MediaInfo{}, errors.New("iprp box not found")
	}
	ipco, ok := findBox(iprp, "ipco")
	if !ok {
		return MediaInfo{}, errors.New("ipco box not found")
	}
	var res MediaInfo
	_ = walkBoxes(ipco, func(b box) bool {
		if b.typ != "ispe" || len(b.payload) < 12 {
			return true
		}
		w := int(binary.BigEndian.Uint32(b.payload[4:8]))
		h := int(binary.BigEndian.Uint32(b.payload[8:12]))
		if w*h > res.Width*res.Height {
			res.Width, res.Height = w, h
		}
		return true
	})
	return res, nil
}

package validate

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Matroska/WebM element IDs, kept with their length-marker bits.
const (
	ebmlHeaderID    = 0x1A45DFA3
	ebmlDocTypeID   = 0x4282
	segmentID       = 0x18538067
	infoID          = 0x1549A966
	timecodeScaleID = 0x2AD7B1
	durationID      = 0x4489
	tracksID        = 0x1654AE6B
	trackEntryID    = 0xAE
	videoID         = 0xE0
	pixelWidthID    = 0xB0
	pixelHeightID   = 0xBA
	clusterID       = 0x1F43B675
	clusterTimeID   = 0xE7
	blockGroupID    = 0xA0
	blockID         = 0xA1
	simpleBlockID   = 0xA3
)

const defaultTimecodeScale = 1_000_000 // ns per tick

var errBadVint = errors.New("malformed ebml vint")

// descend lists master elements whose children are read in place. Every
// other element is skipped by its size, so the walk is flat and copes with
// the unknown-size segments and clusters live recorders emit.
var descend = map[uint32]bool{
	segmentID:    true,
	infoID:       true,
	tracksID:     true,
	trackEntryID: true,
	videoID:      true,
	clusterID:    true,
	blockGroupID: true,
}

// readVint decodes an EBML variable-length integer. keepMarker is set for
// element IDs. unknown is reported when every value bit is set.
func readVint(p []byte, keepMarker bool) (val uint64, n int, unknown bool, err error) {
	if len(p) == 0 || p[0] == 0 {
		return 0, 0, false, errBadVint
	}
	n = 1
	for mask := byte(0x80); p[0]&mask == 0; mask >>= 1 {
		n++
	}
	if n > 8 || len(p) < n {
		return 0, 0, false, errBadVint
	}
	first := p[0]
	if !keepMarker {
		first &= byte(0xFF >> n)
	}
	val = uint64(first)
	allOnes := first == byte(0xFF>>n)
	for i := 1; i < n; i++ {
		val = val<<8 | uint64(p[i])
		allOnes = allOnes && p[i] == 0xFF
	}
	return val, n, !keepMarker && allOnes, nil
}

func readUint(p []byte) uint64 {
	var v uint64
	for _, b := range p {
		v = v<<8 | uint64(b)
	}
	return v
}

func readFloat(p []byte) (float64, bool) {
	switch len(p) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p))), true
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(p)), true
	default:
		return 0, false
	}
}

// parseWebM measures picture size from Tracks. Duration is the larger of the
// Info duration and the latest block timestamp, so a header that understates
// the clip does not shorten it.
func parseWebM(data []byte) (MediaInfo, error) {
	if len(data) < 4 || binary.BigEndian.Uint32(data[:4]) != ebmlHeaderID {
		return MediaInfo{}, errors.New("missing ebml header")
	}

	var (
		res          MediaInfo
		scale        uint64 = defaultTimecodeScale
		infoDuration float64
		haveDuration bool
		clusterTime  uint64
		lastTick     int64
		sawBlock     bool
		docType      string
	)

	p := data
	for len(p) > 0 {
		id, idLen, _, err := readVint(p, true)
		if err != nil {
			break
		}
		size, sizeLen, unknown, err := readVint(p[idLen:], false)
		if err != nil {
			break
		}
		hdr := idLen + sizeLen
		p = p[hdr:]

		if descend[uint32(id)] {
			continue
		}
		if id == ebmlHeaderID {
			if unknown || size > uint64(len(p)) {
				return MediaInfo{}, errors.New("malformed ebml header")
			}
			docType = ebmlDocType(p[:size])
			p = p[size:]
			continue
		}
		if unknown || size > uint64(len(p)) {
			// A truncated trailing element ends the walk; what was read so
			// far still counts.
			break
		}
		body := p[:size]
		p = p[size:]

		switch id {
		case timecodeScaleID:
			if v := readUint(body); v > 0 {
				scale = v
			}
		case durationID:
			if f, ok := readFloat(body); ok && f >= 0 && !math.IsNaN(f) && !math.IsInf(f, 0) {
				infoDuration, haveDuration = f, true
			}
		case pixelWidthID:
			if w := int(readUint(body)); w > res.Width {
				res.Width = w
			}
		case pixelHeightID:
			if h := int(readUint(body)); h > res.Height {
				res.Height = h
			}
		case clusterTimeID:
			clusterTime = readUint(body)
		case simpleBlockID, blockID:
			_, tn, _, verr := readVint(body, false)
			if verr != nil || len(body) < tn+2 {
				continue
			}
			rel := int16(binary.BigEndian.Uint16(body[tn : tn+2]))
			tick := int64(clusterTime) + int64(rel)
			if !sawBlock || tick > lastTick {
				lastTick = tick
			}
			sawBlock = true
		}
	}

	if docType != "" && docType != "webm" && docType != "matroska" {
		return MediaInfo{}, errors.New("unexpected ebml doctype " + docType)
	}
	if haveDuration {
		res.Duration = floatTicks(infoDuration, scale)
	}
	if sawBlock && lastTick > 0 {
		res.Duration = max(res.Duration, uintTicks(uint64(lastTick), scale))
	}
	if res.Width == 0 && res.Height == 0 {
		return res, errNoVideoTrack
	}
	return res, nil
}

// floatTicks and uintTicks convert timecode ticks to a duration, saturating
// instead of wrapping on absurd values.
func floatTicks(ticks float64, scale uint64) time.Duration {
	ns := ticks * float64(scale)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

func uintTicks(ticks, scale uint64) time.Duration {
	if ticks > math.MaxInt64/scale {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ticks * scale)
}

func ebmlDocType(header []byte) string {
	p := header
	for len(p) > 0 {
		id, idLen, _, err := readVint(p, true)
		if err != nil {
			return ""
		}
		size, sizeLen, _, err := readVint(p[idLen:], false)
		if err != nil || uint64(len(p)-idLen-sizeLen) < size {
			return ""
		}
		body := p[idLen+sizeLen : idLen+sizeLen+int(size)]
		if id == ebmlDocTypeID {
			return string(body)
		}
		p = p[idLen+sizeLen+int(size):]
	}
	return ""
}

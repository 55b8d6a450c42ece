// Package mediatest builds small, structurally valid media payloads for tests.
package mediatest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"time"
)

// JPEG encodes a w×h gradient.
func JPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 80}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG encodes a w×h gradient.
func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ZeroDimensionJPEG has a valid JPEG signature and a frame header declaring
// a 0×0 picture, as a truncated or corrupted upload would.
func ZeroDimensionJPEG() []byte {
	return []byte{
		0xFF, 0xD8, // SOI
		0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
		0xFF, 0xC0, 0x00, 0x0B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x01, 0x11, 0x00, // SOF0 0x0
		0xFF, 0xD9, // EOI
	}
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

// MP4 builds an ISO-BMFF file with one w×h track of the given duration.
func MP4(w, h int, d time.Duration) []byte {
	return mp4(w, h, d, d)
}

// MP4WithHeaderDuration builds an MP4 whose mvhd, tkhd and mdhd all claim
// header while the sample table carries d worth of samples.
func MP4WithHeaderDuration(w, h int, d, header time.Duration) []byte {
	return mp4(w, h, d, header)
}

func mp4(w, h int, d, header time.Duration) []byte {
	const timescale = 1000
	claimed := uint32(header.Milliseconds())
	ftyp := bmffBox("ftyp", []byte("isom"), u32(512), []byte("isom"), []byte("mp41"))

	mvhd := bmffBox("mvhd",
		u32(0),         // version + flags
		u32(0), u32(0), // creation, modification
		u32(timescale), // timescale
		u32(claimed),
		u32(0x00010000),    // rate
		[]byte{0x01, 0x00}, // volume
		make([]byte, 10),   // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		u32(2),           // next track id
	)
	tkhd := bmffBox("tkhd",
		u32(0x00000003),
		u32(0), u32(0),
		u32(1), // track id
		u32(0), // reserved
		u32(claimed),
		make([]byte, 8),
		[]byte{0, 0, 0, 0, 0, 0, 0, 0}, // layer, alternate group, volume, reserved
		identityMatrix(),
		u32(uint32(w)<<16),
		u32(uint32(h)<<16),
	)
	mdhd := bmffBox("mdhd",
		u32(0),
		u32(0), u32(0),
		u32(timescale),
		u32(claimed),
		[]byte{0x55, 0xC4, 0, 0}, // language "und", pre_defined
	)
	stbl := bmffBox("stbl", bmffBox("stts", sttsEntries(uint32(d.Milliseconds()))))
	mdia := bmffBox("mdia", mdhd, bmffBox("minf", stbl))
	moov := bmffBox("moov", mvhd, bmffBox("trak", tkhd, mdia))
	mdat := bmffBox("mdat", make([]byte, 8192))
	return bytes.Join([][]byte{ftyp, mdat, moov}, nil)
}

// sttsEntries lays out 40ms samples plus one remainder sample totalling ms.
func sttsEntries(ms uint32) []byte {
	var entries [][]byte
	if n := ms / 40; n > 0 {
		entries = append(entries, u32(n), u32(40))
	}
	if rem := ms % 40; rem > 0 {
		entries = append(entries, u32(1), u32(rem))
	}
	head := [][]byte{u32(0), u32(uint32(len(entries) / 2))}
	return bytes.Join(append(head, entries...), nil)
}

func bmffBox(typ string, parts ...[]byte) []byte {
	payload := bytes.Join(parts, nil)
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], typ)
	return append(out, payload...)
}

func identityMatrix() []byte {
	return bytes.Join([][]byte{
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	}, nil)
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// WebM builds a WebM file with a w×h video track whose Info element records
// duration d, followed by clusters carrying 1 KiB blocks every 500ms.
func WebM(w, h int, d time.Duration) []byte {
	return webm(w, h, d, d, true)
}

// WebMWithHeaderDuration is like WebM but its Info element claims header
// while the clusters carry d worth of blocks.
func WebMWithHeaderDuration(w, h int, d, header time.Duration) []byte {
	return webm(w, h, d, header, true)
}

// LiveWebM is like WebM but omits the Info duration and uses an
// unknown-size segment, as browser recorders do. Duration is only
// recoverable from block timestamps.
func LiveWebM(w, h int, d time.Duration) []byte {
	return webm(w, h, d, d, false)
}

func webm(w, h int, d, claimed time.Duration, withDuration bool) []byte {
	header := ebmlElement(0x1A45DFA3,
		ebmlElement(0x4286, ebmlUint(1)), // EBMLVersion
		ebmlElement(0x4282, []byte("webm")),
		ebmlElement(0x4287, ebmlUint(4)), // DocTypeVersion
	)

	infoChildren := [][]byte{ebmlElement(0x2AD7B1, ebmlUint(1_000_000))}
	if withDuration {
		infoChildren = append(infoChildren, ebmlElement(0x4489, ebmlFloat(float64(claimed.Milliseconds()))))
	}
	info := ebmlElement(0x1549A966, infoChildren...)

	tracks := ebmlElement(0x1654AE6B,
		ebmlElement(0xAE,
			ebmlElement(0xD7, ebmlUint(1)),      // TrackNumber
			ebmlElement(0x83, ebmlUint(1)),      // TrackType video
			ebmlElement(0x86, []byte("V_VP8")), // CodecID
			ebmlElement(0xE0,
				ebmlElement(0xB0, ebmlUint(uint64(w))),
				ebmlElement(0xBA, ebmlUint(uint64(h))),
			),
		),
	)

	var clusters [][]byte
	total := d.Milliseconds()
	for start := int64(0); start <= total; start += 1000 {
		var blocks [][]byte
		for rel := int64(0); rel < 1000 && start+rel <= total; rel += 500 {
			blocks = append(blocks, ebmlElement(0xA3, simpleBlock(int16(rel))))
		}
		if last := total - start; last < 1000 && last%500 != 0 {
			blocks = append(blocks, ebmlElement(0xA3, simpleBlock(int16(last))))
		}
		children := append([][]byte{ebmlElement(0xE7, ebmlUint(uint64(start)))}, blocks...)
		clusters = append(clusters, ebmlElement(0x1F43B675, children...))
	}

	body := bytes.Join(append([][]byte{info, tracks}, clusters...), nil)
	var segment []byte
	if withDuration {
		segment = ebmlElement(0x18538067, body)
	} else {
		segment = append(ebmlID(0x18538067), 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		segment = append(segment, body...)
	}
	return append(header, segment...)
}

func simpleBlock(rel int16) []byte {
	out := []byte{0x81, 0, 0, 0x80}
	binary.BigEndian.PutUint16(out[1:3], uint16(rel))
	return append(out, make([]byte, 1024)...)
}

func ebmlElement(id uint32, children ...[]byte) []byte {
	body := bytes.Join(children, nil)
	out := ebmlID(id)
	size := make([]byte, 8)
	binary.BigEndian.PutUint64(size, uint64(len(body)))
	size[0] = 0x01
	out = append(out, size...)
	return append(out, body...)
}

func ebmlID(id uint32) []byte {
	b := u32(id)
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return b
}

func ebmlUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func ebmlFloat(f float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
	return b
}

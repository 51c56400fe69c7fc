package resize

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/webp"
)

// WebP container constants. An animated file is RIFF/WEBP with a VP8X chunk
// whose animation flag is set, followed by one ANIM chunk and one ANMF chunk
// per frame. Frame bitstreams inside ANMF are ordinary VP8/VP8L (optionally
// preceded by ALPH), so each one can be re-wrapped as a standalone still and
// decoded with x/image/webp.
const (
	riffHeaderLen  = 12
	chunkHeaderLen = 8
	anmfHeaderLen  = 16

	vp8xFlagAnimation = 0x02
	vp8xFlagAlpha     = 0x10

	anmfFlagDispose = 0x01 // dispose to background after display
	anmfFlagNoBlend = 0x02 // overwrite instead of alpha-blending
)

func isWebP(b []byte) bool {
	return len(b) >= riffHeaderLen &&
		bytes.Equal(b[0:4], []byte("RIFF")) &&
		bytes.Equal(b[8:12], []byte("WEBP"))
}

// IsAnimatedWebP reports whether b is a WebP container with animation,
// decided from the VP8X flags or the presence of an ANIM chunk.
func IsAnimatedWebP(b []byte) bool {
	if !isWebP(b) {
		return false
	}
	pos := riffHeaderLen
	for pos+chunkHeaderLen <= len(b) {
		fourcc := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		if size < 0 || pos+chunkHeaderLen+size > len(b) {
			return false
		}
		switch fourcc {
		case "VP8X":
			if size >= 1 {
				return b[pos+chunkHeaderLen]&vp8xFlagAnimation != 0
			}
			return false
		case "ANIM":
			return true
		}
		pos += chunkHeaderLen + size
		if size%2 == 1 {
			pos++ // chunks are padded to even sizes
		}
	}
	return false
}

type anmfFrame struct {
	x, y       int
	w, h       int
	durationMS uint
	blend      bool
	disposeBG  bool
	payload    []byte
}

// decodeAnimatedWebP demuxes the container, decodes every ANMF bitstream and
// composes the frames onto the canvas, honoring blend and
// dispose-to-background flags, so each returned frame is a full canvas.
func decodeAnimatedWebP(src []byte) (*animation, error) {
	canvasW, canvasH, loopCount, frames, err := demux(src)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: animated webp has no frames", ErrDecode)
	}

	anim := &animation{loopCount: loopCount}
	canvas := image.NewNRGBA(image.Rect(0, 0, canvasW, canvasH))
	for _, f := range frames {
		still, err := frameToStill(f)
		if err != nil {
			return nil, err
		}
		img, err := webp.Decode(bytes.NewReader(still))
		if err != nil {
			return nil, fmt.Errorf("%w: frame bitstream: %v", ErrDecode, err)
		}
		rect := image.Rect(f.x, f.y, f.x+f.w, f.y+f.h)
		op := draw.Over
		if !f.blend {
			op = draw.Src
		}
		draw.Draw(canvas, rect, img, img.Bounds().Min, op)
		anim.frames = append(anim.frames, frame{
			img:        cloneNRGBA(canvas),
			durationMS: f.durationMS,
		})
		if f.disposeBG {
			clearRect(canvas, rect)
		}
	}
	return anim, nil
}

func demux(b []byte) (canvasW, canvasH int, loopCount uint16, frames []anmfFrame, err error) {
	pos := riffHeaderLen
	for pos+chunkHeaderLen <= len(b) {
		fourcc := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		start := pos + chunkHeaderLen
		if size < 0 || start+size > len(b) {
			return 0, 0, 0, nil, fmt.Errorf("%w: truncated %s chunk", ErrDecode, fourcc)
		}
		data := b[start : start+size]

		switch fourcc {
		case "VP8X":
			if size < 10 {
				return 0, 0, 0, nil, fmt.Errorf("%w: short VP8X chunk", ErrDecode)
			}
			canvasW = int(uint24(data[4:7])) + 1
			canvasH = int(uint24(data[7:10])) + 1
		case "ANIM":
			if size >= 6 {
				loopCount = binary.LittleEndian.Uint16(data[4:6])
			}
		case "ANMF":
			if size < anmfHeaderLen {
				return 0, 0, 0, nil, fmt.Errorf("%w: short ANMF chunk", ErrDecode)
			}
			flags := data[15]
			frames = append(frames, anmfFrame{
				x:          int(uint24(data[0:3])) * 2,
				y:          int(uint24(data[3:6])) * 2,
				w:          int(uint24(data[6:9])) + 1,
				h:          int(uint24(data[9:12])) + 1,
				durationMS: uint(uint24(data[12:15])),
				blend:      flags&anmfFlagNoBlend == 0,
				disposeBG:  flags&anmfFlagDispose != 0,
				payload:    data[anmfHeaderLen:],
			})
		}

		pos = start + size
		if size%2 == 1 {
			pos++
		}
	}
	if canvasW == 0 || canvasH == 0 {
		return 0, 0, 0, nil, fmt.Errorf("%w: animated webp without VP8X canvas", ErrDecode)
	}
	return canvasW, canvasH, loopCount, frames, nil
}

// frameToStill rebuilds a standalone WebP file from one frame's subchunks.
// Lossy frames with an alpha plane need a VP8X wrapper so the decoder picks
// the ALPH chunk up; lossless frames carry alpha in the VP8L bitstream.
func frameToStill(f anmfFrame) ([]byte, error) {
	var alph, bitstream []byte
	lossless := false

	pos := 0
	for pos+chunkHeaderLen <= len(f.payload) {
		fourcc := string(f.payload[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(f.payload[pos+4 : pos+8]))
		end := pos + chunkHeaderLen + size
		if size < 0 || end > len(f.payload) {
			return nil, fmt.Errorf("%w: truncated frame %s chunk", ErrDecode, fourcc)
		}
		switch fourcc {
		case "ALPH":
			alph = f.payload[pos:end]
		case "VP8 ":
			bitstream = f.payload[pos:end]
		case "VP8L":
			bitstream = f.payload[pos:end]
			lossless = true
		}
		pos = end
		if size%2 == 1 {
			pos++
		}
	}
	if bitstream == nil {
		return nil, fmt.Errorf("%w: frame without image bitstream", ErrDecode)
	}

	var chunks []byte
	if alph != nil && !lossless {
		chunks = append(chunks, makeVP8X(f.w, f.h, vp8xFlagAlpha)...)
		chunks = appendPadded(chunks, alph)
	}
	chunks = appendPadded(chunks, bitstream)

	file := make([]byte, 0, riffHeaderLen+len(chunks))
	file = append(file, "RIFF"...)
	file = binary.LittleEndian.AppendUint32(file, uint32(4+len(chunks)))
	file = append(file, "WEBP"...)
	return append(file, chunks...), nil
}

func makeVP8X(w, h int, flags byte) []byte {
	chunk := make([]byte, 0, chunkHeaderLen+10)
	chunk = append(chunk, "VP8X"...)
	chunk = binary.LittleEndian.AppendUint32(chunk, 10)
	chunk = append(chunk, flags, 0, 0, 0)
	chunk = appendUint24(chunk, uint32(w-1))
	chunk = appendUint24(chunk, uint32(h-1))
	return chunk
}

func appendPadded(dst, chunk []byte) []byte {
	dst = append(dst, chunk...)
	if len(chunk)%2 == 1 {
		dst = append(dst, 0)
	}
	return dst
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func appendUint24(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16))
}

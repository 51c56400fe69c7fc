// Package resize decodes emoji images, fits them into a fixed bounding box
// and re-encodes them as WebP. Animated sources stay animated; static sources
// are the single-frame special case of the same pipeline.
package resize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"
)

var (
	// ErrDecode means the source bytes are not a decodable image.
	ErrDecode = errors.New("resize: decode failed")
	// ErrEncode means re-encoding the transformed frames failed.
	ErrEncode = errors.New("resize: encode failed")
)

// DefaultBox is the bounding box emoji are fitted into.
const DefaultBox = 160

// frame is one step of an animation: a full-canvas pixel buffer plus how
// long to display it. Static images are a one-frame animation.
type frame struct {
	img        image.Image
	durationMS uint
}

type animation struct {
	frames    []frame
	loopCount uint16
}

func (a *animation) animated() bool { return len(a.frames) > 1 }

type Transformer struct {
	box int
}

func New(box int) *Transformer {
	if box <= 0 {
		box = DefaultBox
	}
	return &Transformer{box: box}
}

// Transform decodes src, resamples every frame to fit the box while
// preserving aspect ratio and relative frame durations, and re-encodes the
// result as WebP. Sources already inside the box go through the same
// pipeline so the output encoding is uniform.
func (t *Transformer) Transform(src []byte) ([]byte, error) {
	anim, err := decode(src)
	if err != nil {
		return nil, err
	}
	for i := range anim.frames {
		b := anim.frames[i].img.Bounds()
		tw, th := FitBox(b.Dx(), b.Dy(), t.box)
		anim.frames[i].img = imaging.Resize(anim.frames[i].img, tw, th, imaging.Lanczos)
	}
	return encode(anim)
}

// FitBox computes the output dimensions for a w×h source inside a box×box
// square: a single uniform scale factor on both axes, results rounded and
// clamped to at least one pixel. Aspect ratio is preserved by construction.
func FitBox(w, h, box int) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	scale := math.Min(float64(box)/float64(w), float64(box)/float64(h))
	tw := int(math.Round(float64(w) * scale))
	th := int(math.Round(float64(h) * scale))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

func decode(src []byte) (*animation, error) {
	switch {
	case isWebP(src) && IsAnimatedWebP(src):
		return decodeAnimatedWebP(src)
	case isGIF(src):
		return decodeGIF(src)
	default:
		img, _, err := image.Decode(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return &animation{frames: []frame{{img: img}}}, nil
	}
}

func decodeGIF(src []byte) (*animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%w: gif has no frames", ErrDecode)
	}

	w, h := g.Config.Width, g.Config.Height
	if w <= 0 || h <= 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	anim := &animation{loopCount: loopCountFromGIF(g.LoopCount)}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, pal := range g.Image {
		draw.Draw(canvas, pal.Bounds(), pal, pal.Bounds().Min, draw.Over)
		anim.frames = append(anim.frames, frame{
			img:        cloneNRGBA(canvas),
			durationMS: uint(g.Delay[i]) * 10,
		})
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalBackground {
			clearRect(canvas, pal.Bounds())
		}
	}
	return anim, nil
}

func encode(anim *animation) ([]byte, error) {
	var buf bytes.Buffer
	if !anim.animated() {
		if err := nativewebp.Encode(&buf, anim.frames[0].img, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEncode, err)
		}
		return buf.Bytes(), nil
	}

	images := make([]image.Image, len(anim.frames))
	durations := make([]uint, len(anim.frames))
	disposals := make([]uint, len(anim.frames))
	for i, f := range anim.frames {
		images[i] = f.img
		durations[i] = f.durationMS
		// frames were composed onto the canvas during decode, so every
		// encoded frame is full-size and needs no disposal
		disposals[i] = 0
	}
	err := nativewebp.EncodeAll(&buf, &nativewebp.Animation{
		Images:    images,
		Durations: durations,
		Disposals: disposals,
		LoopCount: anim.loopCount,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// loopCountFromGIF maps image/gif loop semantics (0 forever, -1 once) onto
// the WebP ANIM field (0 forever).
func loopCountFromGIF(n int) uint16 {
	switch {
	case n <= 0 && n != -1:
		return 0
	case n == -1:
		return 1
	case n > math.MaxUint16:
		return math.MaxUint16
	default:
		return uint16(n)
	}
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

func clearRect(canvas *image.NRGBA, r image.Rectangle) {
	draw.Draw(canvas, r, image.Transparent, image.Point{}, draw.Src)
}

func isGIF(b []byte) bool {
	return len(b) >= 6 && string(b[:3]) == "GIF"
}

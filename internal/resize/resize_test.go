package resize

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/png"
	"testing"

	"golang.org/x/image/webp"
)

func TestFitBox(t *testing.T) {
	cases := []struct {
		w, h   int
		tw, th int
	}{
		{100, 100, 160, 160},
		{64, 128, 80, 160},
		{160, 160, 160, 160},
		{320, 320, 160, 160},
		{320, 160, 160, 80},
		{160, 320, 80, 160},
		{333, 77, 160, 37},
		{10000, 1, 160, 1}, // extreme ratio clamps to one pixel
		{1, 1, 160, 160},
		{0, 0, 1, 1},
	}
	for _, tc := range cases {
		tw, th := FitBox(tc.w, tc.h, 160)
		if tw != tc.tw || th != tc.th {
			t.Fatalf("FitBox(%d, %d) = %dx%d, want %dx%d", tc.w, tc.h, tw, th, tc.tw, tc.th)
		}
		if tw > 160 || th > 160 {
			t.Fatalf("FitBox(%d, %d) = %dx%d exceeds the box", tc.w, tc.h, tw, th)
		}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 7)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int, delays []int) []byte {
	t.Helper()
	g := &gif.GIF{Config: image.Config{Width: w, Height: h}}
	for i, d := range delays {
		frame := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				frame.Set(x, y, color.RGBA{R: byte(40*i + x), G: byte(y), B: 0x80, A: 0xff})
			}
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, d)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("gif encode: %v", err)
	}
	return buf.Bytes()
}

func decodeOutput(t *testing.T, out []byte) image.Image {
	t.Helper()
	img, err := webp.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not decodable webp: %v", err)
	}
	return img
}

func TestTransformStaticSquare(t *testing.T) {
	out, err := New(160).Transform(pngBytes(t, 100, 100))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !isWebP(out) {
		t.Fatal("output is not a webp container")
	}
	if IsAnimatedWebP(out) {
		t.Fatal("static source produced an animated output")
	}
	b := decodeOutput(t, out).Bounds()
	if b.Dx() != 160 || b.Dy() != 160 {
		t.Fatalf("output %dx%d, want 160x160", b.Dx(), b.Dy())
	}
}

func TestTransformPreservesAspect(t *testing.T) {
	out, err := New(160).Transform(pngBytes(t, 64, 128))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	b := decodeOutput(t, out).Bounds()
	if b.Dx() != 80 || b.Dy() != 160 {
		t.Fatalf("output %dx%d, want 80x160", b.Dx(), b.Dy())
	}
}

func TestTransformDownscale(t *testing.T) {
	out, err := New(160).Transform(pngBytes(t, 640, 320))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	b := decodeOutput(t, out).Bounds()
	if b.Dx() != 160 || b.Dy() != 80 {
		t.Fatalf("output %dx%d, want 160x80", b.Dx(), b.Dy())
	}
}

func TestTransformDeterministic(t *testing.T) {
	src := pngBytes(t, 90, 45)
	tr := New(160)
	a, err := tr.Transform(src)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Transform(src)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("same source produced different outputs")
	}
}

func TestTransformAnimatedGIF(t *testing.T) {
	src := gifBytes(t, 100, 100, []int{10, 20, 30})
	out, err := New(160).Transform(src)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !IsAnimatedWebP(out) {
		t.Fatal("animated source lost its animation")
	}

	anim, err := decodeAnimatedWebP(out)
	if err != nil {
		t.Fatalf("demux of own output: %v", err)
	}
	if len(anim.frames) != 3 {
		t.Fatalf("frame count = %d, want 3", len(anim.frames))
	}
	wantMS := []uint{100, 200, 300}
	for i, f := range anim.frames {
		if f.durationMS != wantMS[i] {
			t.Fatalf("frame %d duration = %dms, want %dms", i, f.durationMS, wantMS[i])
		}
		b := f.img.Bounds()
		if b.Dx() != 160 || b.Dy() != 160 {
			t.Fatalf("frame %d is %dx%d, want 160x160", i, b.Dx(), b.Dy())
		}
	}
}

func TestTransformSingleFrameGIF(t *testing.T) {
	out, err := New(160).Transform(gifBytes(t, 80, 80, []int{10}))
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if IsAnimatedWebP(out) {
		t.Fatal("single-frame gif produced an animated output")
	}
}

func TestTransformDecodeError(t *testing.T) {
	if _, err := New(160).Transform([]byte("definitely not an image")); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
	// A valid RIFF header with garbage inside must not panic.
	junk := append([]byte("RIFF\x10\x00\x00\x00WEBP"), bytes.Repeat([]byte{0xAA}, 16)...)
	if _, err := New(160).Transform(junk); !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestTransformWebPRoundTrip(t *testing.T) {
	// Feed the transformer its own static output to cover the webp decode path.
	first, err := New(160).Transform(pngBytes(t, 200, 100))
	if err != nil {
		t.Fatal(err)
	}
	second, err := New(160).Transform(first)
	if err != nil {
		t.Fatalf("re-transform of webp output: %v", err)
	}
	b := decodeOutput(t, second).Bounds()
	if b.Dx() != 160 || b.Dy() != 80 {
		t.Fatalf("output %dx%d, want 160x80", b.Dx(), b.Dy())
	}
}

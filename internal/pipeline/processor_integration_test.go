package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"testing"
	"time"

	"github.com/dunamismax/cloudmagick/internal/domain"
	"go.uber.org/zap"
)

func requireImageMagick(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("convert")
	if err != nil {
		t.Skip("ImageMagick convert not installed")
	}
	return path
}

func TestMagickProcessor_ResizeGravityCrop(t *testing.T) {
	binary := requireImageMagick(t)

	for _, protocol := range []Protocol{ProtocolFile, ProtocolStream} {
		t.Run(string(protocol), func(t *testing.T) {
			converter, err := NewMagickConverter(MagickConfig{
				Binary:     binary,
				Protocol:   protocol,
				ScratchDir: t.TempDir(),
				Timeout:    30 * time.Second,
			})
			if err != nil {
				t.Fatalf("new magick converter: %v", err)
			}

			source := &memorySource{objects: map[string]domain.Blob{
				"origin/input.png": {
					Data:         buildTestPNG(t, 240, 120),
					ContentType:  "image/png",
					LastModified: sourceModified,
				},
			}}
			processor, err := NewProcessor(zap.NewNop(), source, converter, nil, Config{SourcePrefix: "origin"})
			if err != nil {
				t.Fatalf("new processor: %v", err)
			}

			req := Request{Directive: "120x60-crop40x30+0+0-Center", Filename: "input.png"}
			first, err := processor.Transform(context.Background(), req)
			if err != nil {
				t.Fatalf("transform: %v", err)
			}
			verifyImageSize(t, first.Output.Data, 40, 30)

			second, err := processor.Transform(context.Background(), req)
			if err != nil {
				t.Fatalf("second transform: %v", err)
			}
			// ImageMagick stamps PNG text chunks with the write time, so compare pixels.
			if !samePixels(t, first.Output.Data, second.Output.Data) {
				t.Fatal("expected identical output for identical directive and source")
			}
		})
	}
}

func TestMagickProcessor_OrientationOnly(t *testing.T) {
	binary := requireImageMagick(t)

	converter, err := NewMagickConverter(MagickConfig{Binary: binary, ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new magick converter: %v", err)
	}

	out, err := converter.Convert(context.Background(),
		BuildArgs(ParseDirective("foo-bar-baz"), InputPlaceholder, OutputPlaceholder),
		domain.Blob{Data: buildTestPNG(t, 64, 32), ContentType: "image/png"},
	)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	verifyImageSize(t, out, 64, 32)
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func samePixels(t *testing.T, a, b []byte) bool {
	t.Helper()

	imgA, _, err := image.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("decode first image: %v", err)
	}
	imgB, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode second image: %v", err)
	}
	if imgA.Bounds() != imgB.Bounds() {
		return false
	}
	bounds := imgA.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if imgA.At(x, y) != imgB.At(x, y) {
				return false
			}
		}
	}
	return true
}

func verifyImageSize(t *testing.T, data []byte, wantW, wantH int) {
	t.Helper()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output image: %v", err)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected %dx%d, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}

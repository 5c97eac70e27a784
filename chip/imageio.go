package chip

import (
	"bufio"
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/pfx"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ReadImage decodes a TIFF, PNG, JPEG or BMP image from a local or gs:// path.
func ReadImage(path string, client *storage.Client) (image.Image, error) {
	// The image decoders swallow errors, so we won't see i/o errors if they
	// happen during decoding. Read everything first.
	imgBytes, err := chipcollections.ReadAllMaybeFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err := tiff.Decode(bytes.NewReader(imgBytes))
		if err != nil {
			return nil, pfx.Err(err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, pfx.Err(err)
	}
	return img, nil
}

// WriteTIFF writes img as a deflate-compressed TIFF.
func WriteTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := tiff.Encode(bw, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return pfx.Err(err)
	}
	if err := bw.Flush(); err != nil {
		return pfx.Err(err)
	}

	return f.Close()
}

func toGray16(img image.Image) *image.Gray16 {
	if g, ok := img.(*image.Gray16); ok {
		return g
	}

	out := image.NewGray16(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}

// toUbyte rescales a 16-bit image linearly so lo maps to 0 and hi to 255. The
// result is anchored at the origin.
func toUbyte(img *image.Gray16, lo, hi uint16) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	span := float64(hi) - float64(lo)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.Gray16At(x, y).Y
			if span <= 0 {
				out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{})
				continue
			}
			scaled := (float64(v) - float64(lo)) / span * 255
			if scaled < 0 {
				scaled = 0
			} else if scaled > 255 {
				scaled = 255
			}
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(scaled + 0.5)})
		}
	}

	return out
}

func extrema(img *image.Gray16) (lo, hi uint16) {
	lo = 0xffff
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.Gray16At(x, y).Y
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Package quicklook renders reframed bands into small preview images.
package quicklook

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"sort"

	"s2reframe/internal/raster"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"
)

// Options tune the quicklook rendering.
type Options struct {
	// MaxSize caps the longest edge of the output; 0 keeps the full size.
	MaxSize int

	// LowPercentile and HighPercentile bound the contrast stretch over the
	// valid (non-zero) pixels. Zero values default to 2 and 98.
	LowPercentile  float64
	HighPercentile float64

	// Quality is the WebP encoding quality; 0 defaults to 85.
	Quality float32
}

func (o Options) percentiles() (float64, float64) {
	low, high := o.LowPercentile, o.HighPercentile
	if low == 0 && high == 0 {
		low, high = 2, 98
	}
	return low, high
}

// stretchBounds returns the pixel values mapped to black and white, from a
// percentile stretch over the valid pixels. Zeros are nodata and excluded.
func stretchBounds(data []float32, low, high float64) (float64, float64) {
	valid := make([]float64, 0, len(data))
	for _, v := range data {
		if v != 0 && v == v {
			valid = append(valid, float64(v))
		}
	}
	if len(valid) == 0 {
		return 0, 1
	}
	sort.Float64s(valid)

	lo := stat.Quantile(low/100, stat.LinInterp, valid, nil)
	hi := stat.Quantile(high/100, stat.LinInterp, valid, nil)
	if hi <= lo {
		hi = lo + 1
	}
	return lo, hi
}

// Render stretches the band into an 8-bit grayscale preview, downscaled so
// its longest edge does not exceed MaxSize. Nodata pixels render black.
func Render(img *raster.Image, o Options) *image.Gray {
	low, high := o.percentiles()
	lo, hi := stretchBounds(img.Data, low, high)
	scale := 255 / (hi - lo)

	cols, rows := img.Header.XSize, img.Header.YSize
	full := image.NewGray(image.Rect(0, 0, cols, rows))
	for i, v := range img.Data {
		if v == 0 {
			continue
		}
		s := (float64(v) - lo) * scale
		if s < 1 {
			s = 1
		}
		if s > 255 {
			s = 255
		}
		full.Pix[i] = uint8(s)
	}

	if o.MaxSize <= 0 || (cols <= o.MaxSize && rows <= o.MaxSize) {
		return full
	}

	outCols, outRows := cols, rows
	if cols >= rows {
		outCols = o.MaxSize
		outRows = rows * o.MaxSize / cols
	} else {
		outRows = o.MaxSize
		outCols = cols * o.MaxSize / rows
	}
	if outRows < 1 {
		outRows = 1
	}
	if outCols < 1 {
		outCols = 1
	}

	small := image.NewGray(image.Rect(0, 0, outCols, outRows))
	draw.CatmullRom.Scale(small, small.Bounds(), full, full.Bounds(), draw.Over, nil)
	return small
}

// WritePNG renders the band and writes it as a PNG file.
func WritePNG(path string, img *raster.Image, o Options) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write quicklook: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, Render(img, o)); err != nil {
		return fmt.Errorf("encode quicklook %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Wrote quicklook")
	return nil
}

// WriteWebP renders the band and writes it as a lossy WebP file.
func WriteWebP(path string, img *raster.Image, o Options) error {
	quality := o.Quality
	if quality == 0 {
		quality = 85
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write quicklook: %w", err)
	}
	defer f.Close()

	if err := webp.Encode(f, Render(img, o), &webp.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode quicklook %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Wrote quicklook")
	return nil
}

// Package heightmap decodes elevation rasters into square sample grids and samples them.
package heightmap

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/MickWest/Sitrec2/mathhelp"
)

var (
	ErrNotSquare  = errors.New("elevation samples do not form a square grid")
	ErrDimensions = errors.New("invalid elevation data dimensions")
)

// Grid is an N×N block of heights in meters, row-major, row 0 at the north edge.
type Grid struct {
	Samples []float32
	N       int
}

// NewGrid checks that width×height samples were delivered and that they are square.
func NewGrid(samples []float32, width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 || len(samples) != width*height {
		return nil, fmt.Errorf("%w: %d samples for %dx%d", ErrDimensions, len(samples), width, height)
	}
	if width != height {
		return nil, fmt.Errorf("%w: %dx%d", ErrNotSquare, width, height)
	}
	return &Grid{Samples: samples, N: width}, nil
}

// GridFromSamples derives N from the sample count.
func GridFromSamples(samples []float32) (*Grid, error) {
	n := int(math.Round(math.Sqrt(float64(len(samples)))))
	if n == 0 || n*n != len(samples) {
		return nil, fmt.Errorf("%w: %d samples", ErrNotSquare, len(samples))
	}
	return &Grid{Samples: samples, N: n}, nil
}

func (g *Grid) At(x, y int) float64 {
	return float64(g.Samples[y*g.N+x])
}

// Bilinear samples the grid at a fractional position inside the tile, (0,0) being the
// north-west corner sample and (1,1) the south-east one. Indices are clamped to the grid,
// so positions outside [0,1] take the edge value.
func (g *Grid) Bilinear(fx, fy float64) float64 {
	last := g.N - 1
	xIndex := fx * float64(last)
	yIndex := fy * float64(last)
	x0 := mathhelp.Clamp(int(math.Floor(xIndex)), 0, last)
	x1 := mathhelp.Clamp(int(math.Ceil(xIndex)), 0, last)
	y0 := mathhelp.Clamp(int(math.Floor(yIndex)), 0, last)
	y1 := mathhelp.Clamp(int(math.Ceil(yIndex)), 0, last)
	tx := mathhelp.Clamp(xIndex-float64(x0), 0, 1)
	ty := mathhelp.Clamp(yIndex-float64(y0), 0, 1)

	f0 := mathhelp.Lerp(g.At(x0, y0), g.At(x1, y0), tx)
	f1 := mathhelp.Lerp(g.At(x0, y1), g.At(x1, y1), tx)
	return mathhelp.Lerp(f0, f1, ty)
}

// Stats summarizes a raster for diagnostics.
type Stats struct {
	Min      float64
	Max      float64
	NaNCount int
	Total    int
}

func ComputeStats(samples []float32) Stats {
	s := Stats{Min: math.Inf(1), Max: math.Inf(-1), Total: len(samples)}
	for _, v := range samples {
		f := float64(v)
		if math.IsNaN(f) {
			s.NaNCount++
			continue
		}
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
	}
	return s
}

// TerrariumHeight decodes one Mapzen Terrarium pixel.
func TerrariumHeight(r, g, b uint8) float32 {
	return float32(float64(r)*256 + float64(g) + float64(b)/256 - 32768)
}

// DecodeTerrarium converts an RGB(A) heightmap image.
func DecodeTerrarium(img image.Image) (*Grid, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	samples := make([]float32, w*h)
	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				samples[y*w+x] = TerrariumHeight(row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				samples[y*w+x] = TerrariumHeight(row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				samples[y*w+x] = TerrariumHeight(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}
	return NewGrid(samples, w, h)
}

func DecodeTerrariumPNG(r io.Reader) (*Grid, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("terrarium png: %w", err)
	}
	return DecodeTerrarium(img)
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Decode picks the decoder from the URL suffix, falling back to the content's magic bytes.
func Decode(data []byte, url string) (*Grid, Stats, error) {
	if strings.HasSuffix(strings.ToLower(url), ".png") || bytes.HasPrefix(data, pngMagic) {
		g, err := DecodeTerrariumPNG(bytes.NewReader(data))
		if err != nil {
			return nil, Stats{}, err
		}
		return g, ComputeStats(g.Samples), nil
	}
	return DecodeGeoTIFF(data)
}

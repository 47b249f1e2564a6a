package heightmap

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// TIFF tags used for elevation rasters.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagGDALNoData      = 42113
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3

	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorNone  = 1
	predictorFloat = 3
)

// maxRasterSide bounds the width and height read from a header before anything is allocated.
const maxRasterSide = 8192

var ErrUnsupportedTIFF = errors.New("unsupported tiff layout")

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte // the 4 inline bytes, or the referenced data
}

type tiffHeader struct {
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	}
	return 0
}

func parseTIFFHeader(data []byte) (*tiffHeader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnsupportedTIFF, len(data))
	}
	h := &tiffHeader{entries: make(map[uint16]ifdEntry)}
	switch string(data[:4]) {
	case "II*\x00":
		h.order = binary.LittleEndian
	case "MM\x00*":
		h.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a classic tiff", ErrUnsupportedTIFF)
	}
	off := int(h.order.Uint32(data[4:8]))
	if off+2 > len(data) {
		return nil, fmt.Errorf("%w: ifd offset %d out of range", ErrUnsupportedTIFF, off)
	}
	n := int(h.order.Uint16(data[off:]))
	for i := 0; i < n; i++ {
		p := off + 2 + i*12
		if p+12 > len(data) {
			return nil, fmt.Errorf("%w: truncated ifd", ErrUnsupportedTIFF)
		}
		e := ifdEntry{
			typ:   h.order.Uint16(data[p+2:]),
			count: h.order.Uint32(data[p+4:]),
		}
		if typeSize(e.typ) == 0 {
			// unknown field types are skipped, as readers must
			continue
		}
		size := typeSize(e.typ) * int(e.count)
		if size <= 4 {
			e.raw = data[p+8 : p+12]
		} else {
			vo := int(h.order.Uint32(data[p+8:]))
			if vo+size > len(data) {
				return nil, fmt.Errorf("%w: tag %d data out of range", ErrUnsupportedTIFF, h.order.Uint16(data[p:]))
			}
			e.raw = data[vo : vo+size]
		}
		h.entries[h.order.Uint16(data[p:])] = e
	}
	return h, nil
}

func (h *tiffHeader) uints(tag uint16) []uint32 {
	e, ok := h.entries[tag]
	if !ok || (e.typ != 1 && e.typ != 3 && e.typ != 4) {
		return nil
	}
	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case 3:
			out[i] = uint32(h.order.Uint16(e.raw[i*2:]))
		case 4:
			out[i] = h.order.Uint32(e.raw[i*4:])
		case 1:
			out[i] = uint32(e.raw[i])
		}
	}
	return out
}

func (h *tiffHeader) uint(tag uint16, def uint32) uint32 {
	v := h.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func (h *tiffHeader) noData() (float64, bool) {
	e, ok := h.entries[tagGDALNoData]
	if !ok {
		return 0, false
	}
	s := strings.TrimRight(string(e.raw), "\x00 ")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

// DecodeGeoTIFF reads a single-band elevation GeoTIFF at native resolution. Integer rasters go
// through golang.org/x/image/tiff; 32-bit float rasters, which that decoder does not handle,
// are read here from uncompressed or deflated strips or tiles. GDAL no-data values become NaN.
func DecodeGeoTIFF(data []byte) (*Grid, Stats, error) {
	h, err := parseTIFFHeader(data)
	if err != nil {
		return nil, Stats{}, err
	}
	width := int(h.uint(tagImageWidth, 0))
	height := int(h.uint(tagImageLength, 0))
	if width > maxRasterSide || height > maxRasterSide {
		return nil, Stats{}, fmt.Errorf("%w: %dx%d raster exceeds %d", ErrDimensions, width, height, maxRasterSide)
	}
	if h.uint(tagSamplesPerPixel, 1) != 1 {
		return nil, Stats{}, fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedTIFF, h.uint(tagSamplesPerPixel, 1))
	}

	var samples []float32
	if h.uint(tagSampleFormat, sampleFormatUint) == sampleFormatFloat {
		samples, err = decodeFloatTIFF(h, data, width, height)
	} else {
		samples, err = decodeIntegerTIFF(h, data)
	}
	if err != nil {
		return nil, Stats{}, err
	}

	if nd, ok := h.noData(); ok {
		for i, v := range samples {
			if float64(v) == nd {
				samples[i] = float32(math.NaN())
			}
		}
	}

	g, err := NewGrid(samples, width, height)
	if err != nil {
		return nil, Stats{}, err
	}
	return g, ComputeStats(samples), nil
}

func decodeIntegerTIFF(h *tiffHeader, data []byte) ([]float32, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("geotiff: %w", err)
	}
	signed := h.uint(tagSampleFormat, sampleFormatUint) == sampleFormatInt
	b := img.Bounds()
	w, hgt := b.Dx(), b.Dy()
	out := make([]float32, w*hgt)
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < hgt; y++ {
			for x := 0; x < w; x++ {
				v := src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				if signed {
					out[y*w+x] = float32(int16(v))
				} else {
					out[y*w+x] = float32(v)
				}
			}
		}
	case *image.Gray:
		for y := 0; y < hgt; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = float32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %T raster", ErrUnsupportedTIFF, img)
	}
	return out, nil
}

func decodeFloatTIFF(h *tiffHeader, data []byte, width, height int) ([]float32, error) {
	if bps := h.uint(tagBitsPerSample, 1); bps != 32 {
		return nil, fmt.Errorf("%w: %d-bit float", ErrUnsupportedTIFF, bps)
	}
	compression := h.uint(tagCompression, compressionNone)
	predictor := h.uint(tagPredictor, predictorNone)
	if predictor != predictorNone && predictor != predictorFloat {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedTIFF, predictor)
	}

	// strips are tiles as wide as the image
	blockW, blockH := width, int(h.uint(tagRowsPerStrip, uint32(height)))
	offsets, counts := h.uints(tagStripOffsets), h.uints(tagStripByteCounts)
	if _, tiled := h.entries[tagTileWidth]; tiled {
		blockW, blockH = int(h.uint(tagTileWidth, 0)), int(h.uint(tagTileLength, 0))
		offsets, counts = h.uints(tagTileOffsets), h.uints(tagTileByteCounts)
	}
	if blockW <= 0 || blockH <= 0 || len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: no raster blocks", ErrUnsupportedTIFF)
	}
	across := (width + blockW - 1) / blockW

	out := make([]float32, width*height)
	for i := range offsets {
		start, end := int(offsets[i]), int(offsets[i])+int(counts[i])
		if end > len(data) {
			return nil, fmt.Errorf("%w: block %d out of range", ErrUnsupportedTIFF, i)
		}
		block, err := inflate(data[start:end], compression)
		if err != nil {
			return nil, err
		}
		if len(block) < blockW*blockH*4 {
			// the last strip may be short
			rows := len(block) / (blockW * 4)
			if rows == 0 {
				return nil, fmt.Errorf("%w: block %d too short", ErrUnsupportedTIFF, i)
			}
			block = block[:rows*blockW*4]
		}
		rows := len(block) / (blockW * 4)
		if predictor == predictorFloat {
			undoFloatPredictor(block, blockW, rows)
		}
		bx, by := (i%across)*blockW, (i/across)*blockH
		for r := 0; r < rows && by+r < height; r++ {
			for c := 0; c < blockW && bx+c < width; c++ {
				p := (r*blockW + c) * 4
				var bits uint32
				if predictor == predictorFloat {
					bits = binary.BigEndian.Uint32(block[p:])
				} else {
					bits = h.order.Uint32(block[p:])
				}
				out[(by+r)*width+bx+c] = math.Float32frombits(bits)
			}
		}
	}
	return out, nil
}

func inflate(b []byte, compression uint32) ([]byte, error) {
	switch compression {
	case compressionNone:
		return b, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("geotiff deflate: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupportedTIFF, compression)
}

// undoFloatPredictor reverses TIFF predictor 3: bytes are differenced along the row and
// split into planes of most to least significant byte. Rows end up big-endian.
func undoFloatPredictor(block []byte, width, rows int) {
	rowLen := width * 4
	tmp := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		row := block[r*rowLen : (r+1)*rowLen]
		for i := 1; i < rowLen; i++ {
			row[i] += row[i-1]
		}
		copy(tmp, row)
		for c := 0; c < width; c++ {
			for b := 0; b < 4; b++ {
				row[c*4+b] = tmp[b*width+c]
			}
		}
	}
}

package scene

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

type Material interface {
	Dispose()
	Disposed() bool
}

type Texture struct {
	Image    image.Image
	disposed bool
}

func NewTexture(img image.Image) *Texture {
	return &Texture{Image: img}
}

func (t *Texture) Dispose() {
	t.disposed = true
	t.Image = nil
}

func (t *Texture) Disposed() bool {
	return t.disposed
}

type WireframeMaterial struct {
	Color    color.RGBA
	disposed bool
}

// NewWireframeMaterial is what a tile shows until its imagery arrives.
func NewWireframeMaterial() *WireframeMaterial {
	return &WireframeMaterial{Color: color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}}
}

func (m *WireframeMaterial) Dispose() {
	m.disposed = true
}

func (m *WireframeMaterial) Disposed() bool {
	return m.disposed
}

// Quadrant uniform names for materials that blend four child textures.
var QuadUniforms = [...]string{"mapSW", "mapNW", "mapSE", "mapNE"}

type TextureMaterial struct {
	Map      *Texture
	Uniforms map[string]*Texture
	disposed bool
}

func NewTextureMaterial(tex *Texture) *TextureMaterial {
	return &TextureMaterial{Map: tex}
}

// Dispose releases the material only. Textures are released by whoever owns the tile.
func (m *TextureMaterial) Dispose() {
	m.disposed = true
}

func (m *TextureMaterial) Disposed() bool {
	return m.disposed
}

const (
	debugSize   = 512
	debugSquare = 64
)

// NewDebugMaterial renders a checkerboard labelled with text, used to inspect tile placement.
func NewDebugMaterial(label string) *TextureMaterial {
	img := image.NewRGBA(image.Rect(0, 0, debugSize, debugSize))
	dark := image.NewUniform(color.RGBA{R: 0x50, G: 0x50, B: 0x50, A: 0xff})
	light := image.NewUniform(color.RGBA{R: 0x60, G: 0x60, B: 0x60, A: 0xff})
	for y := 0; y < debugSize; y += debugSquare {
		for x := 0; x < debugSize; x += debugSquare {
			src := dark
			if (x/debugSquare+y/debugSquare)%2 == 1 {
				src = light
			}
			draw.Draw(img, image.Rect(x, y, x+debugSquare, y+debugSquare), src, image.Point{}, draw.Src)
		}
	}
	border := color.RGBA{R: 0xa0, G: 0xa0, B: 0xa0, A: 0xff}
	for i := 0; i < debugSize; i++ {
		img.Set(i, 0, border)
		img.Set(i, debugSize-1, border)
		img.Set(0, i, border)
		img.Set(debugSize-1, i, border)
	}

	face := basicfont.Face7x13
	d := font.Drawer{Dst: img, Src: image.White, Face: face}
	width := d.MeasureString(label)
	d.Dot = fixed.Point26_6{
		X: fixed.I(debugSize/2) - width/2,
		Y: fixed.I(debugSize/2 + face.Ascent/2),
	}
	d.DrawString(label)

	return NewTextureMaterial(NewTexture(img))
}

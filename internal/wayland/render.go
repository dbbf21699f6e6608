package wayland

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	dotSpacing = 40
	dotRadius  = 12
	maxDots    = 32
)

// view is everything drawn on a lock surface. Every output shows the same view.
type view struct {
	background color.RGBA
	title      string
	status     string
	echo       string // visible input for echo prompts
	dots       int    // hidden input length
	offset     int    // horizontal shake offset of the dots
}

type faces struct {
	title  font.Face
	status font.Face
}

var (
	facesOnce sync.Once
	loaded    faces
	facesErr  error
)

func loadFaces() (faces, error) {
	facesOnce.Do(func() {
		bold, err := opentype.Parse(gobold.TTF)
		if err != nil {
			facesErr = fmt.Errorf("failed to parse bold font: %w", err)
			return
		}
		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			facesErr = fmt.Errorf("failed to parse regular font: %w", err)
			return
		}
		loaded.title, err = opentype.NewFace(bold, &opentype.FaceOptions{Size: 48, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			facesErr = fmt.Errorf("failed to create title face: %w", err)
			return
		}
		loaded.status, err = opentype.NewFace(regular, &opentype.FaceOptions{Size: 24, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			facesErr = fmt.Errorf("failed to create status face: %w", err)
		}
	})
	return loaded, facesErr
}

func (v view) render(width, height int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: v.background}, image.Point{}, draw.Src)

	f, err := loadFaces()
	if err != nil {
		return img, err
	}

	centerY := height / 2
	drawCentered(img, f.title, v.title, centerY-60)
	if v.echo != "" {
		drawCentered(img, f.status, v.echo, centerY+20)
	} else {
		drawDots(img, v.dots, v.offset, centerY+10)
	}
	drawCentered(img, f.status, v.status, centerY+90)
	return img, nil
}

func drawCentered(img *image.RGBA, face font.Face, text string, y int) {
	if text == "" {
		return
	}
	x := (img.Bounds().Dx() - font.MeasureString(face, text).Round()) / 2
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawDots(img *image.RGBA, count, offset, y int) {
	count = min(count, maxDots)
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	startX := (width-count*dotSpacing)/2 + dotSpacing/2 + offset

	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	for i := 0; i < count; i++ {
		x := startX + i*dotSpacing
		for dy := -dotRadius; dy <= dotRadius; dy++ {
			for dx := -dotRadius; dx <= dotRadius; dx++ {
				if dx*dx+dy*dy > dotRadius*dotRadius {
					continue
				}
				px, py := x+dx, y+dy
				if px >= 0 && py >= 0 && px < width && py < height {
					img.SetRGBA(px, py, white)
				}
			}
		}
	}
}

// copyARGB writes img into dst as little-endian ARGB8888, the byte order
// wl_shm expects.
func copyARGB(dst []byte, img *image.RGBA) {
	b := img.Bounds()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+4]
			dst[i+0] = p[2]
			dst[i+1] = p[1]
			dst[i+2] = p[0]
			dst[i+3] = p[3]
			i += 4
		}
	}
}

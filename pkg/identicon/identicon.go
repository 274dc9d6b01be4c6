// Package identicon renders the deterministic fallback avatar used
// when a user or room has no avatar URL.
package identicon

import (
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const size = 40

// palette matches the avatar colors used by the desktop client.
var palette = []color.RGBA{
	{69, 189, 243, 255},
	{224, 143, 112, 255},
	{77, 182, 172, 255},
	{149, 117, 205, 255},
	{176, 133, 94, 255},
	{240, 98, 146, 255},
	{163, 211, 108, 255},
	{121, 134, 203, 255},
	{241, 185, 29, 255},
}

// Color picks the palette entry for an id. Deterministic: the same id
// always maps to the same color.
func Color(id string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(id))

	return palette[h.Sum32()%uint32(len(palette))]
}

// Initials derives the glyph drawn on the identicon: the uppercased
// first runes of the first two whitespace-separated words, after
// stripping the IRC bridge marker.
func Initials(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), " (IRC)")

	words := strings.Fields(name)
	initials := ""

	for i, w := range words {
		if i == 2 {
			break
		}

		runes := []rune(w)
		initials += strings.ToUpper(string(runes[0]))
	}

	return initials
}

// Render writes a circular identicon PNG for uid to path and returns
// the path. The output is stable for a given (uid, displayName).
func Render(path, uid, displayName string) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, size, size))

	bg := Color(uid)
	center := float64(size) / 2
	radius := center * center

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) + 0.5 - center
			dy := float64(y) + 0.5 - center

			if dx*dx+dy*dy <= radius {
				img.SetRGBA(x, y, bg)
			}
		}
	}

	drawInitials(img, Initials(displayName))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", err
	}

	return path, f.Close()
}

func drawInitials(img draw.Image, text string) {
	if text == "" {
		return
	}

	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}

	width := d.MeasureString(text)

	d.Dot = fixed.Point26_6{
		X: (fixed.I(size) - width) / 2,
		Y: fixed.I((size + face.Ascent - face.Descent) / 2),
	}

	d.DrawString(text)
}

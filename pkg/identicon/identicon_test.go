package identicon

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitials(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice", "A"},
		{"alice cooper", "AC"},
		{"Alice Bob Carol", "AB"},
		{"bob (IRC)", "B"},
		{"", ""},
		{"  spaced  out  ", "SO"},
		{"ümlaut", "Ü"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, Initials(tc.in), "initials of %q", tc.in)
	}
}

func TestColorDeterministic(t *testing.T) {
	assert.Equal(t, Color("@alice:matrix.org"), Color("@alice:matrix.org"))
}

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "@alice:matrix.org")

	got, err := Render(path, "@alice:matrix.org", "Alice Cooper")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	// Corners stay transparent outside the circle.
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)
}

func TestRenderStable(t *testing.T) {
	dir := t.TempDir()

	p1, err := Render(filepath.Join(dir, "a"), "@a:x", "Alice")
	require.NoError(t, err)

	p2, err := Render(filepath.Join(dir, "b"), "@a:x", "Alice")
	require.NoError(t, err)

	d1, err := os.ReadFile(p1)
	require.NoError(t, err)
	d2, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

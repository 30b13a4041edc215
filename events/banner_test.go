package events

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngOf(w, h int) *bytes.Buffer {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return &buf
}

func TestSaveBannerWritesThumbnail(t *testing.T) {
	dir := t.TempDir()
	banner, thumb, err := saveBanner(pngOf(1200, 600), dir, "evt_1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(banner, "evt_1-"))

	small, err := imaging.Open(filepath.Join(dir, thumb))
	require.NoError(t, err)
	assert.Equal(t, thumbWidth, small.Bounds().Dx())
	assert.Equal(t, 200, small.Bounds().Dy())

	big, err := imaging.Open(filepath.Join(dir, banner))
	require.NoError(t, err)
	assert.Equal(t, 1200, big.Bounds().Dx())
}

func TestSaveBannerRejectsNonImages(t *testing.T) {
	_, _, err := saveBanner(strings.NewReader("not an image"), t.TempDir(), "evt_1")
	assert.ErrorIs(t, err, errNotImage)
}

package library

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestImagesListAndImport(t *testing.T) {
	root := t.TempDir()
	im, err := NewImages(root)
	require.NoError(t, err)

	list, err := im.List()
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.DirExists(t, filepath.Join(root, "wallpaper_static"))

	src := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), pngBytes(t), 0o644))
	}
	for _, name := range []string{"b.PNG", "a.jpg"} {
		dest, err := im.Import(filepath.Join(src, name))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(im.Dir, name), dest)
	}
	_, err = im.Import(filepath.Join(src, "notes.txt"))
	assert.ErrorIs(t, err, ErrNotImage)
	_, err = im.Import(filepath.Join(src, "missing.png"))
	assert.ErrorIs(t, err, ErrNotFound)

	// stray files and folders are not wallpapers
	require.NoError(t, os.WriteFile(filepath.Join(im.Dir, "readme.md"), []byte("#"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(im.Dir, "old.png"), 0o755))

	list, err = im.List()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(im.Dir, "a.jpg"), filepath.Join(im.Dir, "b.PNG")}, list)
}

func TestImagesDelete(t *testing.T) {
	im, err := NewImages(t.TempDir())
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "sky.png")
	require.NoError(t, os.WriteFile(src, pngBytes(t), 0o644))
	path, err := im.Import(src)
	require.NoError(t, err)

	assert.ErrorIs(t, im.Delete(src), ErrInvalidPath)
	assert.ErrorIs(t, im.Delete(filepath.Join(im.Dir, "..", "temp", "x.png")), ErrInvalidPath)
	assert.FileExists(t, src)

	require.NoError(t, im.Delete(path))
	assert.NoFileExists(t, path)
	assert.ErrorIs(t, im.Delete(path), ErrNotFound)
}

func TestImagesSaveDownload(t *testing.T) {
	im, err := NewImages(t.TempDir())
	require.NoError(t, err)
	at := time.Unix(1700000000, 0)

	path, err := im.SaveDownload(pngBytes(t), at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(im.TempDir, "wallpaper_1700000000.png"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes(t), data)

	_, err = im.SaveDownload([]byte("<html>not found</html>"), at)
	assert.ErrorIs(t, err, ErrNotImage)
}

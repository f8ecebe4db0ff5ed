package library

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrNotImage rejects downloads that no registered image decoder accepts.
var ErrNotImage = errors.New("not an image")

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// Images is the folder of static image wallpapers. Static wallpapers are plain files rather
// than database rows so the desktop can be pointed at them directly.
//
//	<root>/wallpaper_static/   imported images, listed by List
//	<root>/temp/               downloads waiting to be applied
type Images struct {
	Dir     string
	TempDir string
}

// NewImages roots the static wallpaper folders under root. A leading ~ is expanded.
func NewImages(root string) (*Images, error) {
	root, err := homedir.Expand(root)
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Images{
		Dir:     filepath.Join(root, "wallpaper_static"),
		TempDir: filepath.Join(root, "temp"),
	}, nil
}

// IsImage reports whether path has one of the image extensions List accepts.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// List returns the absolute paths of the images in Dir, sorted. Other files and directories
// are skipped. Dir is created when missing.
func (im *Images) List() ([]string, error) {
	if err := os.MkdirAll(im.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create %s: %w", im.Dir, err)
	}
	entries, err := os.ReadDir(im.Dir)
	if err != nil {
		return nil, err
	}
	ret := []string{}
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsImage(e.Name()) {
			continue
		}
		ret = append(ret, filepath.Join(im.Dir, e.Name()))
	}
	sort.Strings(ret)
	return ret, nil
}

// Import copies the image at src into Dir under its base name, replacing a file of that name,
// and returns the new path.
func (im *Images) Import(src string) (string, error) {
	name := filepath.Base(src)
	if !IsImage(name) {
		return "", fmt.Errorf("%w: %s", ErrNotImage, src)
	}
	in, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err != nil {
		return "", err
	}
	defer in.Close()
	return writeAtomic(im.Dir, name, in)
}

// Delete removes an image previously listed or imported. Paths outside Dir are refused.
func (im *Images) Delete(path string) error {
	rel, err := filepath.Rel(im.Dir, path)
	if err != nil || !filepath.IsLocal(rel) || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("%w: %s is not in %s", ErrInvalidPath, path, im.Dir)
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return err
}

// SaveDownload stores downloaded image bytes in TempDir as wallpaper_<unix seconds>.<format>
// and returns the path.
func (im *Images) SaveDownload(data []byte, at time.Time) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	name := fmt.Sprintf("wallpaper_%d.%s", at.Unix(), ext)
	return writeAtomic(im.TempDir, name, bytes.NewReader(data))
}

func writeAtomic(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("unable to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

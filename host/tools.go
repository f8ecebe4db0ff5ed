package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"opaper/handler"
	"opaper/library"
	"opaper/message"
	"opaper/sysstats"
)

// tools carries the host methods that validate their own arguments. Register installs them
// with handler.Registry.RegisterReceiver, so each wire name is the snake_case Go name.
type tools struct {
	h *Host
}

func (t *tools) GetSystemStats(ctx context.Context) (sysstats.Stats, error) {
	return t.h.getSystemStats(ctx)
}

func (t *tools) FetchRequest(ctx context.Context, args *FetchArgs) (FetchResponse, error) {
	return t.h.fetch(ctx, args)
}

func (t *tools) FetchJSON(ctx context.Context, args *FetchArgs) (any, error) {
	return t.h.fetchJSON(ctx, args)
}

type PathArgs struct {
	Path string `json:"path"`
}

type URLArgs struct {
	URL string `json:"url"`
}

// files carries the methods working on the data directory and the static wallpaper folder.
type files struct {
	h      *Host
	root   string
	images *library.Images
}

// local resolves a path the document gave relative to the data directory.
func (f *files) local(p string) (string, error) {
	p = filepath.FromSlash(p)
	if p == "" || !filepath.IsLocal(p) {
		return "", handler.BadRequest("path must be relative to the data directory: %q", p)
	}
	return filepath.Join(f.root, p), nil
}

func (f *files) OpenFolder(ctx context.Context, args *PathArgs) (string, error) {
	dir, err := f.local(args.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("Failed to create folder: %v", err)
	}
	if err := f.h.launcher.Open(ctx, dir); err != nil {
		return "", fmt.Errorf("Failed to open folder: %v", err)
	}
	return "Opened folder: " + dir, nil
}

func (f *files) ReadFile(_ context.Context, args *PathArgs) (string, error) {
	path, err := f.local(args.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", handler.Errorf(message.CodeNotFound, "File not found: %s", args.Path)
	}
	if err != nil {
		return "", fmt.Errorf("Failed to read file: %v", err)
	}
	return string(data), nil
}

func (f *files) ReadWallpaperStatic(context.Context) ([]string, error) {
	return f.images.List()
}

func (f *files) CopyWallpaperToWallpaperStatic(_ context.Context, args *PathArgs) (string, error) {
	if args.Path == "" {
		return "", handler.BadRequest("path is required")
	}
	dest, err := f.images.Import(args.Path)
	if err != nil {
		return "", imageError(err)
	}
	return dest, nil
}

func (f *files) DeleteWallpaperStatic(_ context.Context, args *PathArgs) (any, error) {
	if err := f.images.Delete(args.Path); err != nil {
		return nil, imageError(err)
	}
	return nil, nil
}

func (f *files) SetStaticWallpaperFromPath(ctx context.Context, args *PathArgs) (string, error) {
	if args.Path == "" {
		return "", handler.BadRequest("path is required")
	}
	if _, err := os.Stat(args.Path); err != nil {
		return "", handler.Errorf(message.CodeNotFound, "File not found: %s", args.Path)
	}
	if err := f.h.desktop.SetImage(ctx, args.Path); err != nil {
		return "", err
	}
	return "Wallpaper set successfully from: " + args.Path, nil
}

// SetStaticWallpaperFromURL downloads an image into the temp folder and applies it.
func (f *files) SetStaticWallpaperFromURL(ctx context.Context, args *URLArgs) (string, error) {
	if args.URL == "" {
		return "", handler.BadRequest("url is required")
	}
	data, err := f.h.download(ctx, args.URL)
	if err != nil {
		return "", err
	}
	path, err := f.images.SaveDownload(data, time.Now())
	if err != nil {
		return "", imageError(err)
	}
	if err := f.h.desktop.SetImage(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

func imageError(err error) error {
	switch {
	case errors.Is(err, library.ErrNotFound):
		return handler.Errorf(message.CodeNotFound, "%v", err)
	case errors.Is(err, library.ErrNotImage), errors.Is(err, library.ErrInvalidPath):
		return handler.BadRequest("%v", err)
	}
	return err
}

// Package host installs the methods a preview document may call on the privileged side:
// telemetry, launching programs, configuration and the wallpaper library.
//
//	get_system_stats                        → sysstats.Stats
//	fetch_request           {url, options?} → {status, headers, body}
//	fetch_json              {url, options?} → parsed body
//	on_wallpaper_click      {source}        → {"ok": true}
//	open_executable         {path}          → "Successfully opened: <path>"
//	read_config                             → config object
//	set_config              {content}       → null
//	save_config             {patch}         → merged config object
//	read_wallpaper_<kind>                   → [title...]
//	read_wallpaper_<kind>_file {title}      → code
//	write_wallpaper_<kind>_file {title, code} → null
//	save_wallpaper_<kind>   {title, code, thumbnail?} → served path
//	delete_wallpaper_<kind> {title}         → null
//	new_draft_<kind>                        → draft
//	set_wallpaper           {kind, title}   → merged config object
//
// <kind> is html or shader. Library methods are only installed when a library is configured.
// save_wallpaper_<kind> without a thumbnail screenshots the calling document.
//
// With a data directory the file and static image methods are installed as well:
//
//	open_folder             {path}          → "Opened folder: <dir>"
//	read_file               {path}          → file content
//	read_wallpaper_static                   → [image path...]
//	copy_wallpaper_to_wallpaper_static {path} → imported path
//	delete_wallpaper_static {path}          → null
//	set_static_wallpaper_from_path {path}   → "Wallpaper set successfully from: <path>"
//	set_static_wallpaper_from_url  {url}    → downloaded path
package host

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"opaper/bridge"
	"opaper/handler"
	"opaper/library"
	"opaper/message"
	"opaper/sysstats"
)

// Launcher opens a file or program with the desktop's default handler.
type Launcher interface {
	Open(ctx context.Context, path string) error
}

// ClickSink receives clicks reported by the wallpaper document.
type ClickSink interface {
	WallpaperClicked(ctx context.Context, source string)
}

// Painter makes a saved background the desktop wallpaper.
type Painter interface {
	Apply(ctx context.Context, b library.Background) error
}

type Deps struct {
	Stats    sysstats.Probe
	Launcher Launcher
	Clicks   ClickSink
	Painter  Painter
	Desktop  Desktop
	Library  *library.Library
	// DataDir roots read_file, open_folder and the static wallpaper folders. Empty leaves those
	// methods out.
	DataDir string
	HTTP    *http.Client
	Logger  *slog.Logger
}

type Host struct {
	stats    sysstats.Probe
	launcher Launcher
	clicks   ClickSink
	painter  Painter
	desktop  Desktop
	library  *library.Library
	dataDir  string
	http     *http.Client
	logger   *slog.Logger
}

// New fills missing dependencies with defaults: the gopsutil probe, ExecLauncher, ExecDesktop,
// an HTTP client with a 30s timeout and a ClickSink that logs.
func New(deps Deps) *Host {
	h := &Host{
		stats:    deps.Stats,
		launcher: deps.Launcher,
		clicks:   deps.Clicks,
		painter:  deps.Painter,
		desktop:  deps.Desktop,
		library:  deps.Library,
		dataDir:  deps.DataDir,
		http:     deps.HTTP,
		logger:   deps.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.stats == nil {
		h.stats = sysstats.NewProbe()
	}
	if h.launcher == nil {
		h.launcher = ExecLauncher{}
	}
	if h.clicks == nil {
		h.clicks = logClicks{h.logger}
	}
	if h.desktop == nil {
		h.desktop = ExecDesktop{}
	}
	if h.http == nil {
		h.http = &http.Client{Timeout: 30 * time.Second}
	}
	return h
}

// Register installs the host methods on reg.
func (h *Host) Register(reg *handler.Registry) error {
	if _, err := reg.RegisterReceiver(&tools{h: h}); err != nil {
		return err
	}
	if h.dataDir != "" {
		images, err := library.NewImages(h.dataDir)
		if err != nil {
			return err
		}
		root := filepath.Dir(images.Dir)
		if _, err := reg.RegisterReceiver(&files{h: h, root: root, images: images}); err != nil {
			return err
		}
	}

	type method struct {
		name   string
		schema string
		fn     handler.HandlerFunc
	}
	methods := []method{
		{"on_wallpaper_click", clickSchema, handler.Func(h.onWallpaperClick)},
		{"open_executable", openSchema, handler.Func(h.openExecutable)},
	}
	if h.library != nil {
		methods = append(methods,
			method{"read_config", "", handler.NoArgs(h.readConfig)},
			method{"set_config", setConfigSchema, handler.Func(h.setConfig)},
			method{"save_config", saveConfigSchema, handler.Func(h.saveConfig)},
			method{"set_wallpaper", setWallpaperSchema, handler.Func(h.setWallpaper)},
		)
		for _, kind := range library.Kinds {
			lib := libraryMethods{h: h, kind: kind}
			methods = append(methods,
				method{"read_wallpaper_" + string(kind), "", handler.NoArgs(lib.list)},
				method{"read_wallpaper_" + string(kind) + "_file", titleSchema, handler.Func(lib.readFile)},
				method{"write_wallpaper_" + string(kind) + "_file", writeFileSchema, handler.Func(lib.writeFile)},
				method{"save_wallpaper_" + string(kind), saveSchema, handler.Func(lib.save)},
				method{"delete_wallpaper_" + string(kind), titleSchema, handler.Func(lib.delete)},
				method{"new_draft_" + string(kind), "", handler.NoArgs(lib.newDraft)},
			)
		}
	}

	for _, m := range methods {
		var err error
		if m.schema != "" {
			err = reg.RegisterWithSchema(m.name, m.schema, m.fn)
		} else {
			err = reg.Register(m.name, m.fn)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) getSystemStats(ctx context.Context) (sysstats.Stats, error) {
	stats, err := h.stats.Sample(ctx)
	if err != nil {
		return sysstats.Stats{}, handler.Unavailable("failed to read system stats: %v", err)
	}
	return stats, nil
}

type ClickArgs struct {
	Source string `json:"source"`
}

func (h *Host) onWallpaperClick(ctx context.Context, args ClickArgs) (map[string]bool, error) {
	if args.Source == "" {
		return nil, handler.BadRequest("source is required")
	}
	h.clicks.WallpaperClicked(ctx, args.Source)
	return map[string]bool{"ok": true}, nil
}

type OpenArgs struct {
	Path string `json:"path"`
}

func (h *Host) openExecutable(ctx context.Context, args OpenArgs) (string, error) {
	if args.Path == "" {
		return "", handler.BadRequest("path is required")
	}
	if err := h.launcher.Open(ctx, args.Path); err != nil {
		return "", fmt.Errorf("Failed to open %s: %v", args.Path, err)
	}
	return "Successfully opened: " + args.Path, nil
}

func (h *Host) readConfig(ctx context.Context) (map[string]any, error) {
	return h.library.ReadConfig(ctx)
}

type SetConfigArgs struct {
	Content string `json:"content"`
}

func (h *Host) setConfig(ctx context.Context, args SetConfigArgs) (any, error) {
	if err := h.library.WriteConfig(ctx, args.Content); err != nil {
		return nil, handler.BadRequest("%v", err)
	}
	return nil, nil
}

type SaveConfigArgs struct {
	Patch map[string]any `json:"patch"`
}

func (h *Host) saveConfig(ctx context.Context, args SaveConfigArgs) (map[string]any, error) {
	return h.library.SaveConfig(ctx, args.Patch)
}

type SetWallpaperArgs struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// setWallpaper records the choice in the config the way the editor does (mode, loop and the
// kind's path key) and hands the background to the painter.
func (h *Host) setWallpaper(ctx context.Context, args SetWallpaperArgs) (map[string]any, error) {
	kind, err := library.ParseKind(args.Kind)
	if err != nil {
		return nil, handler.BadRequest("%v", err)
	}
	b, err := h.library.Get(ctx, kind, args.Title)
	if err != nil {
		return nil, libraryError(err)
	}
	cfg, err := h.library.SaveConfig(ctx, map[string]any{
		"mode":                string(kind),
		"loop":                false,
		string(kind) + "Path": WallpaperPath(kind, b.Title),
	})
	if err != nil {
		return nil, err
	}
	if h.painter != nil {
		if err := h.painter.Apply(ctx, b); err != nil {
			return nil, fmt.Errorf("failed to apply wallpaper: %w", err)
		}
	}
	return cfg, nil
}

// WallpaperPath is where the host HTTP server serves a saved background.
func WallpaperPath(kind library.Kind, title string) string {
	return "/wallpapers/" + string(kind) + "/" + url.PathEscape(title)
}

type libraryMethods struct {
	h    *Host
	kind library.Kind
}

type TitleArgs struct {
	Title string `json:"title"`
}

type WriteFileArgs struct {
	Title string `json:"title"`
	Code  string `json:"code"`
}

type SaveArgs struct {
	Title     string `json:"title"`
	Code      string `json:"code"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Draft is an unsaved background as shown in the editor.
type Draft struct {
	Title     string `json:"title"`
	Code      string `json:"code"`
	Thumbnail string `json:"thumbnail"`
}

func (m libraryMethods) list(ctx context.Context) ([]string, error) {
	backgrounds, err := m.h.library.List(ctx, m.kind)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(backgrounds))
	for _, b := range backgrounds {
		titles = append(titles, b.Title)
	}
	return titles, nil
}

func (m libraryMethods) readFile(ctx context.Context, args TitleArgs) (string, error) {
	b, err := m.h.library.Get(ctx, m.kind, args.Title)
	if err != nil {
		return "", libraryError(err)
	}
	return b.Code, nil
}

func (m libraryMethods) writeFile(ctx context.Context, args WriteFileArgs) (any, error) {
	if err := m.h.library.UpdateCode(ctx, m.kind, args.Title, args.Code); err != nil {
		return nil, libraryError(err)
	}
	return nil, nil
}

// save stores the background. Without a thumbnail it asks the calling document for a screenshot
// of what it renders, keeping the default thumbnail if the document cannot provide one.
func (m libraryMethods) save(ctx context.Context, args SaveArgs) (string, error) {
	var (
		b   library.Background
		err error
	)
	if ch, ok := bridge.FromContext(ctx); ok && args.Thumbnail == "" {
		b, err = Preview{Channel: ch, Logger: m.h.logger}.SaveWithThumbnail(ctx, m.h.library, m.kind, args.Title, args.Code)
	} else {
		b, err = m.h.library.Save(ctx, m.kind, args.Title, args.Code, args.Thumbnail)
	}
	if err != nil {
		return "", handler.BadRequest("%v", err)
	}
	return WallpaperPath(b.Kind, b.Title), nil
}

func (m libraryMethods) delete(ctx context.Context, args TitleArgs) (any, error) {
	if err := m.h.library.Delete(ctx, m.kind, args.Title); err != nil {
		return nil, libraryError(err)
	}
	return nil, nil
}

func (m libraryMethods) newDraft(ctx context.Context) (Draft, error) {
	b, err := library.NewDraft(m.kind)
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		Title:     b.Title,
		Code:      b.Code,
		Thumbnail: "data:image/png;base64," + base64.StdEncoding.EncodeToString(b.Thumbnail),
	}, nil
}

func libraryError(err error) error {
	if errors.Is(err, library.ErrNotFound) {
		return handler.Errorf(message.CodeNotFound, "%v", err)
	}
	return err
}

type logClicks struct {
	logger *slog.Logger
}

func (l logClicks) WallpaperClicked(ctx context.Context, source string) {
	l.logger.InfoContext(ctx, "Wallpaper clicked", "source", source)
}

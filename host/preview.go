package host

import (
	"context"
	"log/slog"

	"opaper/bridge"
	"opaper/library"
)

// Preview makes host-initiated calls into a connected preview document.
type Preview struct {
	Channel *bridge.Channel
	Logger  *slog.Logger // nil uses slog.Default
}

// Screenshot asks the preview for a PNG data URL of what it currently renders.
func (p Preview) Screenshot(ctx context.Context) (string, error) {
	var url string
	if err := p.Channel.CallInto(ctx, "screenshot", nil, &url); err != nil {
		return "", err
	}
	return url, nil
}

// SaveWithThumbnail screenshots the preview and saves code under title with that thumbnail.
// A preview that cannot answer gets the default thumbnail; only the save itself can fail.
func (p Preview) SaveWithThumbnail(ctx context.Context, lib *library.Library, kind library.Kind, title, code string) (library.Background, error) {
	url, err := p.Screenshot(ctx)
	if err != nil {
		logger := p.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "Saving without screenshot", "kind", kind, "title", title, "err", err)
		url = ""
	}
	return lib.Save(ctx, kind, title, code, url)
}

package library

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"opaper/screenshot"
)

type Kind string

const (
	KindHTML   Kind = "html"
	KindShader Kind = "shader"
)

// Kinds lists every wallpaper kind the library stores.
var Kinds = []Kind{KindHTML, KindShader}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindHTML, KindShader:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Background is one saved wallpaper: an HTML document or a GLSL fragment shader.
type Background struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Code      string    `json:"code"`
	Thumbnail []byte    `json:"thumbnail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileName is the name the background is served under: index.html or shader.glsl.
func (b Background) FileName() string {
	if b.Kind == KindShader {
		return "shader.glsl"
	}
	return "index.html"
}

var defaultThumbnail = sync.OnceValue(func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 0x80, G: 0x00, B: 0x80, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
})

// DefaultThumbnail is the 1x1 purple PNG stored for backgrounds saved without one.
func DefaultThumbnail() []byte {
	return append([]byte(nil), defaultThumbnail()...)
}

// Save stores a background, replacing any background of the same kind and title. thumbnail may be a PNG
// data URL, bare base64, or empty for the default.
func (l *Library) Save(ctx context.Context, kind Kind, title, code, thumbnail string) (Background, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return Background{}, err
	}
	if err := checkTitle(title); err != nil {
		return Background{}, err
	}
	thumb := DefaultThumbnail()
	if thumbnail != "" {
		thumb, err = screenshot.DecodeDataURL(thumbnail)
		if err != nil {
			return Background{}, fmt.Errorf("failed to decode thumbnail: %w", err)
		}
	}
	b := Background{Kind: kind, Title: title, Code: code, Thumbnail: thumb, UpdatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	err = inTX(ctx, l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`insert into dt_background
			(kind, title, code, thumbnail, updated_at_unixms)
			values
			($1, $2, $3, $4, $5)
			on conflict (kind, title) do
				update set
					code = excluded.code,
					thumbnail = excluded.thumbnail,
					updated_at_unixms = excluded.updated_at_unixms`,
			string(b.Kind), b.Title, b.Code, b.Thumbnail, b.UpdatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return Background{}, fmt.Errorf("unable to save %s %s: %w", kind, title, err)
	}
	return b, nil
}

// checkTitle accepts titles usable as a single folder name.
func checkTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title is required")
	}
	if title == "." || title == ".." || strings.ContainsAny(title, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}
	return nil
}

// List returns the saved backgrounds of kind, ordered by title.
func (l *Library) List(ctx context.Context, kind Kind) ([]Background, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	rows, err := l.db.QueryContext(ctx,
		"select kind, title, code, thumbnail, updated_at_unixms from dt_background where kind = $1 order by title", string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := []Background{}
	for rows.Next() {
		b, err := scanBackground(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, b)
	}
	return ret, rows.Err()
}

// Get returns one background, or an error wrapping ErrNotFound.
func (l *Library) Get(ctx context.Context, kind Kind, title string) (Background, error) {
	row := l.db.QueryRowContext(ctx,
		"select kind, title, code, thumbnail, updated_at_unixms from dt_background where kind = $1 and title = $2", string(kind), title)
	b, err := scanBackground(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Background{}, fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	return b, err
}

// Delete removes one background, or returns an error wrapping ErrNotFound.
func (l *Library) Delete(ctx context.Context, kind Kind, title string) error {
	res, err := l.db.ExecContext(ctx, "delete from dt_background where kind = $1 and title = $2", string(kind), title)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	return nil
}

// NewDraft returns an unsaved background built from the kind's template, titled h_xxxxxx or
// s_xxxxxx.
func NewDraft(kind Kind) (Background, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Background{}, err
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	b := Background{Kind: kind, Thumbnail: DefaultThumbnail()}
	switch kind {
	case KindShader:
		b.Title = "s_" + suffix
		b.Code = shaderTemplate
	default:
		b.Title = "h_" + suffix
		b.Code = htmlTemplate
	}
	return b, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBackground(s scanner) (Background, error) {
	var (
		b    Background
		kind string
		ms   int64
	)
	if err := s.Scan(&kind, &b.Title, &b.Code, &b.Thumbnail, &ms); err != nil {
		return Background{}, err
	}
	b.Kind = Kind(kind)
	b.UpdatedAt = time.UnixMilli(ms).UTC()
	return b, nil
}

// UpdateCode replaces the code of an existing background and keeps its thumbnail.
func (l *Library) UpdateCode(ctx context.Context, kind Kind, title, code string) error {
	res, err := l.db.ExecContext(ctx,
		"update dt_background set code = $1, updated_at_unixms = $2 where kind = $3 and title = $4",
		code, time.Now().UnixMilli(), string(kind), title)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, title)
	}
	return nil
}

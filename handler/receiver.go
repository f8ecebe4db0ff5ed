package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"opaper/message"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// RegisterReceiver scans rcvr's exported methods and registers every one with a handler
// signature under its snake_case name:
//
//	func (s *Tools) GetSystemStats(ctx context.Context) (Stats, error)          → get_system_stats
//	func (s *Tools) OpenExecutable(ctx context.Context, a *OpenArgs) (string, error) → open_executable
//
// Methods with any other shape are skipped. It returns the names it registered.
func (r *Registry) RegisterReceiver(rcvr any) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("handler: receiver must be a pointer to a struct, got %v", typ)
	}
	val := reflect.ValueOf(rcvr)

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		fn, ok := methodHandler(val, method)
		if !ok {
			continue
		}
		name := SnakeCase(method.Name)
		if err := r.Register(name, fn); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("handler: %s has no handler methods", typ.Elem().Name())
	}
	return names, nil
}

// methodHandler accepts (receiver, ctx) or (receiver, ctx, *Args) returning (Reply, error).
func methodHandler(rcvr reflect.Value, method reflect.Method) (HandlerFunc, bool) {
	mt := method.Type
	if mt.NumOut() != 2 || mt.Out(1) != errorType {
		return nil, false
	}
	if mt.NumIn() < 2 || mt.NumIn() > 3 || mt.In(1) != contextType {
		return nil, false
	}

	var argType reflect.Type
	if mt.NumIn() == 3 {
		if mt.In(2).Kind() != reflect.Ptr {
			return nil, false
		}
		argType = mt.In(2).Elem()
	}

	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		in := []reflect.Value{rcvr, reflect.ValueOf(ctx)}
		if argType != nil {
			argv := reflect.New(argType)
			if err := message.Bind(payload, argv.Interface()); err != nil {
				return nil, BadRequest("invalid payload: %v", err)
			}
			in = append(in, argv)
		}
		out := method.Func.Call(in)
		if errv := out[1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		return out[0].Interface(), nil
	}, true
}

// SnakeCase converts an exported Go method name to a wire method name.
// GetSystemStats → get_system_stats, OpenURL → open_url, ReadWallpaperHTMLFile → read_wallpaper_html_file.
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

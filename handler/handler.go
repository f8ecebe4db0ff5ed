// Package handler is the inbound method registry: a map from method name to the function that
// services it.
//
// Serve is the last stage of the inbound pipeline and always produces exactly one reply:
//
//	request{id, method, payload}
//	  → Lookup(method) ── miss ──→ {id, method, code:404, data:null, msg:"unknown method"}
//	  → fn(ctx, payload)
//	      ── err ──→ {id, method, code:Error.Code or 500, data:null, msg:err}
//	      ── ok  ──→ {id, method, code:200, data:result}
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"opaper/message"
)

// HandlerFunc services one method. payload is the raw JSON of the request (nil when absent);
// the returned value is encoded as the reply's data.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

type entry struct {
	fn     HandlerFunc
	schema *gojsonschema.Schema
}

// Registry is safe for concurrent use. Handlers may be added or removed while requests are
// being served.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register installs fn for method, replacing any previous handler.
func (r *Registry) Register(method string, fn HandlerFunc) error {
	return r.register(method, fn, nil)
}

// RegisterWithSchema installs fn together with a JSON schema its payload must satisfy.
// The schema is enforced by middleware.Validate.
func (r *Registry) RegisterWithSchema(method, schema string, fn HandlerFunc) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("handler: schema for %s: %w", method, err)
	}
	return r.register(method, fn, compiled)
}

func (r *Registry) register(method string, fn HandlerFunc, schema *gojsonschema.Schema) error {
	if method == "" {
		return fmt.Errorf("handler: empty method name")
	}
	if fn == nil {
		return fmt.Errorf("handler: nil handler for %s", method)
	}
	r.mu.Lock()
	r.entries[method] = entry{fn: fn, schema: schema}
	r.mu.Unlock()
	return nil
}

func (r *Registry) Unregister(method string) {
	r.mu.Lock()
	delete(r.entries, method)
	r.mu.Unlock()
}

func (r *Registry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	e, ok := r.entries[method]
	r.mu.RUnlock()
	return e.fn, ok
}

// Schema returns the compiled payload schema of method, if one was registered.
func (r *Registry) Schema(method string) (*gojsonschema.Schema, bool) {
	r.mu.RLock()
	e, ok := r.entries[method]
	r.mu.RUnlock()
	if !ok || e.schema == nil {
		return nil, false
	}
	return e.schema, true
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Serve runs the handler registered for req.Method and returns its reply.
// It never returns nil.
func (r *Registry) Serve(ctx context.Context, req *message.Envelope) *message.Envelope {
	fn, ok := r.Lookup(req.Method)
	if !ok {
		return message.NotFound(req)
	}

	result, err := fn(ctx, req.Payload)
	if err != nil {
		code, msg := CodeOf(err)
		return message.Fail(req, code, msg)
	}

	reply, err := message.Reply(req, result)
	if err != nil {
		return message.Fail(req, message.CodeInternal, err.Error())
	}
	return reply
}

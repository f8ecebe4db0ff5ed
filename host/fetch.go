package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"opaper/handler"
)

// maxFetchBody bounds what fetch_request and image downloads read into memory.
const maxFetchBody = 32 << 20

var fetchMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true, http.MethodDelete: true, http.MethodPatch: true,
}

type FetchOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
}

type FetchArgs struct {
	URL     string        `json:"url"`
	Options *FetchOptions `json:"options,omitempty"`
}

// FetchResponse is what the document gets back from fetch_request. Repeated headers are
// joined with ", ".
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// fetch performs a request on behalf of the document, which cannot reach other origins itself.
// Any status is a successful fetch; only transport failures are errors.
func (h *Host) fetch(ctx context.Context, args *FetchArgs) (FetchResponse, error) {
	if args.URL == "" {
		return FetchResponse{}, handler.BadRequest("url is required")
	}
	opts := FetchOptions{}
	if args.Options != nil {
		opts = *args.Options
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !fetchMethods[method] {
		return FetchResponse{}, handler.BadRequest("Unsupported HTTP method")
	}
	var body io.Reader
	if opts.Body != nil {
		body = strings.NewReader(*opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return FetchResponse{}, handler.BadRequest("Request failed: %v", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	// Failures are plain errors, not 503: the request may not be safe to replay.
	resp, err := h.http.Do(req)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return FetchResponse{}, fmt.Errorf("Failed to read response body: %v", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for k, vs := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return FetchResponse{Status: resp.StatusCode, Headers: headers, Body: string(data)}, nil
}

func (h *Host) fetchJSON(ctx context.Context, args *FetchArgs) (any, error) {
	resp, err := h.fetch(ctx, args)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(resp.Body), &v); err != nil {
		return nil, fmt.Errorf("Failed to parse JSON: %v", err)
	}
	return v, nil
}

// download GETs url and returns the body of a 2xx response. Transport failures and 5xx answers
// are 503 so they may be retried.
func (h *Host) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, handler.BadRequest("Failed to download image: %v", err)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, handler.Unavailable("Failed to download image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, handler.Unavailable("Failed to download image: HTTP %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Failed to download image: HTTP %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, handler.Unavailable("Failed to read image data: %v", err)
	}
	return data, nil
}

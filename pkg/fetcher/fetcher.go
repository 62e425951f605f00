package fetcher

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/caching"
	"github.com/dtnitsch/picget/pkg/headers"
)

// Response is a fully read HTTP response body.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

type Fetcher struct {
	client  *http.Client
	headers *headers.Factory
	cache   *caching.Cache
	logger  *slog.Logger
}

type Option func(*Fetcher)

// WithClient replaces the default http.Client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithHeaders replaces the default header factory.
func WithHeaders(h *headers.Factory) Option {
	return func(f *Fetcher) { f.headers = h }
}

// WithCache enables the page cache for GetPage.
func WithCache(c *caching.Cache) Option {
	return func(f *Fetcher) { f.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		headers: headers.NewFactory(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get performs one GET with fresh headers and reads the decoded body.
// Non-2xx statuses and network failures return *models.TransportError.
func (f *Fetcher) Get(ctx context.Context, url, referer string, timeout time.Duration) (*Response, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.do(ctx, url, referer)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := decodedBody(resp)
	if err != nil {
		return nil, &models.TransportError{URL: url, Err: err}
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &models.TransportError{URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Stream copies the decoded body into w without buffering it whole.
// It returns the number of bytes written and the response content type.
func (f *Fetcher) Stream(ctx context.Context, url, referer string, timeout time.Duration, w io.Writer) (int64, string, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.do(ctx, url, referer)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := decodedBody(resp)
	if err != nil {
		return 0, "", &models.TransportError{URL: url, Err: err}
	}
	defer body.Close()

	n, err := io.Copy(w, body)
	if err != nil {
		return n, "", &models.TransportError{URL: url, Err: fmt.Errorf("failed to stream response body: %w", err)}
	}
	return n, resp.Header.Get("Content-Type"), nil
}

// GetPage fetches an HTML page or playlist, consulting the page cache first.
func (f *Fetcher) GetPage(ctx context.Context, url, referer string, timeout time.Duration) ([]byte, error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(url); ok {
			if len(data) > 0 {
				f.logger.Debug("Page found in cache", "url", url)
				return data, nil
			}
			// An empty entry is a truncated write, never a real page.
			if err := f.cache.Invalidate(url); err != nil {
				f.logger.Warn("Failed to drop empty cache entry", "url", url, "error", err)
			}
		}
	}

	resp, err := f.Get(ctx, url, referer, timeout)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(url, resp.Body); err != nil {
			f.logger.Warn("Failed to store page in cache", "url", url, "error", err)
		}
	}
	return resp.Body, nil
}

func (f *Fetcher) do(ctx context.Context, url, referer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.TransportError{URL: url, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header = f.headers.Headers(referer)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &models.TransportError{URL: url, Err: fmt.Errorf("failed to make HTTP request: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &models.TransportError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// decodedBody undoes Content-Encoding. The transport leaves it alone because
// Accept-Encoding is set explicitly.
func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return io.NopCloser(resp.Body), nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return r, nil
	case "deflate":
		return newDeflateReader(resp.Body)
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams.
func newDeflateReader(body io.Reader) (io.ReadCloser, error) {
	var buf bytes.Buffer
	header := make([]byte, 2)
	n, err := io.ReadFull(body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return io.NopCloser(&buf), nil
		}
		return nil, fmt.Errorf("failed to read deflate header: %w", err)
	}
	buf.Write(header[:n])
	r := io.MultiReader(&buf, body)

	// zlib: CMF low nibble is 8 and CMF*256+FLG is a multiple of 31
	if n == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return zr, nil
	}
	return flate.NewReader(r), nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

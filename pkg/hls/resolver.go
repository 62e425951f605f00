package hls

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtnitsch/picget/models"
)

// PageFetcher is the part of the HTTP layer the resolver needs.
type PageFetcher interface {
	GetPage(ctx context.Context, url, referer string, timeout time.Duration) ([]byte, error)
}

// Unresolved records a playlist branch that produced no segments and why.
type Unresolved struct {
	URL    string `yaml:"url"`
	Reason string `yaml:"reason"`
}

// Resolution is the outcome of resolving one playlist tree.
type Resolution struct {
	Segments   []string     `yaml:"segments"`
	Unresolved []Unresolved `yaml:"unresolved,omitempty"`
}

type Resolver struct {
	fetcher  PageFetcher
	maxDepth int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewResolver(f PageFetcher, maxDepth int, timeout time.Duration, logger *slog.Logger) *Resolver {
	if maxDepth < 1 {
		maxDepth = models.DefaultMaxManifestDepth
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		fetcher:  f,
		maxDepth: maxDepth,
		timeout:  timeout,
		logger:   logger.With("component", "segment_resolver"),
	}
}

// Resolve returns the segments of the first playlist in the tree that lists
// any. Only a failure to fetch the root playlist is an error; failing child
// branches are recorded in Resolution.Unresolved and their siblings still run.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string) (Resolution, error) {
	body, err := r.fetcher.GetPage(ctx, manifestURL, "", r.timeout)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	var res Resolution
	onPath := map[string]bool{manifestURL: true}
	res.Segments = r.walk(ctx, manifestURL, string(body), 0, onPath, &res)
	r.logger.Info("Manifest resolved", "url", manifestURL, "segments", len(res.Segments), "unresolved", len(res.Unresolved))
	return res, nil
}

func (r *Resolver) walk(ctx context.Context, manifestURL, text string, depth int, onPath map[string]bool, res *Resolution) []string {
	m := ParsePlaylist(text, manifestURL)
	if m.Terminal() {
		return m.Segments
	}

	for _, child := range m.ChildManifests {
		if ctx.Err() != nil {
			res.Unresolved = append(res.Unresolved, Unresolved{URL: child, Reason: "cancelled"})
			continue
		}
		if onPath[child] {
			res.Unresolved = append(res.Unresolved, Unresolved{URL: child, Reason: "cycle"})
			continue
		}
		if depth+1 > r.maxDepth {
			res.Unresolved = append(res.Unresolved, Unresolved{URL: child, Reason: "max depth exceeded"})
			continue
		}

		body, err := r.fetcher.GetPage(ctx, child, manifestURL, r.timeout)
		if err != nil {
			r.logger.Warn("Failed to fetch child manifest", "url", child, "error", err)
			res.Unresolved = append(res.Unresolved, Unresolved{URL: child, Reason: err.Error()})
			continue
		}

		onPath[child] = true
		segments := r.walk(ctx, child, string(body), depth+1, onPath, res)
		delete(onPath, child)
		if len(segments) > 0 {
			return segments
		}
	}
	return nil
}

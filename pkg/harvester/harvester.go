// Package harvester composes the resolvers, the fetch engine and the
// download actions into the operations offered to the command line.
package harvester

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/artifact_manager"
	"github.com/dtnitsch/picget/pkg/caching"
	"github.com/dtnitsch/picget/pkg/db"
	"github.com/dtnitsch/picget/pkg/decoder"
	"github.com/dtnitsch/picget/pkg/dedup"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/dtnitsch/picget/pkg/extractor"
	"github.com/dtnitsch/picget/pkg/fetcher"
	"github.com/dtnitsch/picget/pkg/headers"
	"github.com/dtnitsch/picget/pkg/hls"
	"github.com/dtnitsch/picget/pkg/listing"
	"github.com/dtnitsch/picget/pkg/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

// Options carries the collaborators a Harvester does not build itself.
// Every field is optional.
type Options struct {
	Fs         afero.Fs
	Client     *http.Client
	Redis      *redis.Client
	History    *db.DB
	OnProgress func(stage string, p models.Progress)
}

type Harvester struct {
	cfg        *models.Config
	logger     *slog.Logger
	fetcher    *fetcher.Fetcher
	decoder    *decoder.Decoder
	pages      *listing.Resolver
	extractor  *extractor.Extractor
	locator    *hls.Locator
	playlists  *hls.Resolver
	files      *artifact_manager.Manager
	redis      *redis.Client
	history    *db.DB
	onProgress func(stage string, p models.Progress)
	newRunID   func() string
}

// New validates cfg and wires every component. No network activity happens here.
func New(cfg *models.Config, logger *slog.Logger, opts Options) (*Harvester, error) {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	files, err := artifact_manager.NewManager(fs, cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	fetchOpts := []fetcher.Option{fetcher.WithLogger(logger.With("component", "fetcher"))}
	if opts.Client != nil {
		fetchOpts = append(fetchOpts, fetcher.WithClient(opts.Client))
	}
	if cfg.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetcher.WithHeaders(&headers.Factory{UserAgent: cfg.UserAgent}))
	}
	if cfg.CacheDir != "" {
		cache, err := caching.NewCache(fs, cfg.CacheDir, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create page cache: %w", err)
		}
		fetchOpts = append(fetchOpts, fetcher.WithCache(cache))
	}
	f := fetcher.NewFetcher(fetchOpts...)

	d := decoder.NewDecoder(cfg.ObfuscationVar, cfg.TitleEncodings, logger)
	return &Harvester{
		cfg:        cfg,
		logger:     logger.With("component", "harvester"),
		fetcher:    f,
		decoder:    d,
		pages:      listing.NewResolver(cfg, d, logger),
		extractor:  extractor.NewExtractor(d),
		locator:    hls.NewLocator(d, cfg.PlayerSelector, logger),
		playlists:  hls.NewResolver(f, cfg.MaxManifestDepth, cfg.PageTimeout, logger),
		files:      files,
		redis:      opts.Redis,
		history:    opts.History,
		onProgress: opts.OnProgress,
		newRunID:   uuid.NewString,
	}, nil
}

func (h *Harvester) Config() *models.Config { return h.cfg }

func (h *Harvester) Files() *artifact_manager.Manager { return h.files }

// delay is the configured pause with delaySeconds as its base.
func (h *Harvester) delay(delaySeconds float64) (engine.DelayPolicy, error) {
	return engine.Delay(delaySeconds, h.cfg.Jitter)
}

// fetchPage validates the URL and fetches it as a page.
func (h *Harvester) fetchPage(ctx context.Context, rawURL, referer string) (string, []byte, error) {
	u, err := common.SanitizeAndValidateURL(rawURL)
	if err != nil {
		return "", nil, &models.ValidationError{Field: "url", Value: rawURL, Reason: err.Error()}
	}
	body, err := h.fetcher.GetPage(ctx, u, referer, h.cfg.PageTimeout)
	if err != nil {
		return u, nil, err
	}
	return u, body, nil
}

func (h *Harvester) progress(stage string) func(models.Progress) {
	if h.onProgress == nil {
		return nil
	}
	return func(p models.Progress) { h.onProgress(stage, p) }
}

// run is the bookkeeping of one top-level operation.
type run struct {
	id      string
	kind    string
	target  string
	dir     string
	started time.Time
	seen    dedup.Store
}

// beginRun starts a run with an empty fingerprint set. History failures
// are logged, never fatal.
func (h *Harvester) beginRun(ctx context.Context, kind, target, dir string) (*run, error) {
	r := &run{id: h.newRunID(), kind: kind, target: target, dir: dir, started: time.Now()}

	seen, err := h.newSeen(ctx, r.id)
	if err != nil {
		return nil, err
	}
	r.seen = seen

	if h.history != nil {
		if err := h.history.InsertRun(r.id, kind, target, dir, r.started); err != nil {
			h.logger.Warn("Failed to record run", "run_id", r.id, "error", err)
		}
	}
	h.logger.Info("Run started", "run_id", r.id, "kind", kind, "target", target)
	return r, nil
}

// newSeen returns an empty fingerprint set scoped to id.
func (h *Harvester) newSeen(ctx context.Context, id string) (dedup.Store, error) {
	var seen dedup.Store
	if h.redis != nil {
		seen = dedup.NewRedisStore(h.redis, id, h.cfg.CacheTTL, h.logger)
	} else {
		seen = dedup.NewMemoryStore()
	}
	if err := seen.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset dedup store: %w", err)
	}
	return seen, nil
}

// finishRun records results and writes the YAML summary into the run
// directory. It returns the summary path, or "" when none was written.
func (h *Harvester) finishRun(r *run, summary models.BatchSummary, output string, notes ...string) string {
	if h.history != nil {
		if err := h.history.InsertResults(r.id, summary.Results); err != nil {
			h.logger.Warn("Failed to record results", "run_id", r.id, "error", err)
		}
		if err := h.history.FinishRun(r.id, summary, output); err != nil {
			h.logger.Warn("Failed to finish run", "run_id", r.id, "error", err)
		}
	}

	h.logger.Info("Run finished", "run_id", r.id, "total", summary.Total, "succeeded", summary.Succeeded,
		"skipped", summary.Skipped, "failed", summary.Failed)

	if r.dir == "" {
		return ""
	}
	s := session.NewRunSummary(r.id, r.kind, r.target, r.dir, r.started, summary)
	s.Output = output
	s.Notes = append(s.Notes, notes...)

	fs := h.files.Fs()
	path, err := session.WriteSummary(fs, r.dir, s)
	if err != nil {
		h.logger.Warn("Failed to write run summary", "run_id", r.id, "error", err)
		return ""
	}
	if err := session.UpdateRunIndex(fs, h.files.BaseDir(), s.Info(path)); err != nil {
		h.logger.Warn("Failed to update run index", "run_id", r.id, "error", err)
	}
	return path
}

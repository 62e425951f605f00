package harvester

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/dedup"
	"github.com/dtnitsch/picget/pkg/download"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/dtnitsch/picget/pkg/extractor"
	"github.com/dtnitsch/picget/pkg/session"
)

// PageDownload is the outcome of downloading the images of one detail page.
type PageDownload struct {
	PageURL string
	Title   string
	Dir     string
	Summary models.BatchSummary
	// SummaryPath is the YAML summary written into Dir.
	SummaryPath string
	Err         error
}

// Analysis is the outcome of scanning listing pages for detail links.
type Analysis struct {
	Links   []string
	Summary models.BatchSummary
}

// ResolvePages discovers the listing pages reachable from seedURL.
func (h *Harvester) ResolvePages(ctx context.Context, seedURL string) (models.PageSet, error) {
	seed, raw, err := h.fetchPage(ctx, seedURL, "")
	if err != nil {
		return models.PageSet{}, fmt.Errorf("failed to fetch seed page: %w", err)
	}
	return h.pages.ParsePages(seed, raw)
}

// ResolveDetailLinks lists the detail pages linked from one listing page.
func (h *Harvester) ResolveDetailLinks(ctx context.Context, pageURL string) ([]string, error) {
	u, raw, err := h.fetchPage(ctx, pageURL, "")
	if err != nil {
		return nil, err
	}
	return h.pages.ParseDetailLinks(u, raw)
}

// ResolveImages lists the absolute image candidates of a page and its title.
// An empty list is not an error.
func (h *Harvester) ResolveImages(ctx context.Context, pageURL string) (extractor.Assets, error) {
	u, raw, err := h.fetchPage(ctx, pageURL, "")
	if err != nil {
		return extractor.Assets{}, err
	}

	doc := h.decoder.Decode(raw)
	assets := h.extractor.Extract(doc)
	assets.URLs = extractor.FilterImages(extractor.ResolveAll(u, assets.URLs))
	if assets.Title == "" {
		assets.Title, _ = h.decoder.TitleOrReadability(doc, u)
	}
	h.logger.Info("Images resolved", "url", u, "count", len(assets.URLs), "title", assets.Title)
	return assets, nil
}

// AnalyzePages fetches every listing page on a worker pool and collects the
// detail links, in page order and without repeats. Pages not started before
// ctx is cancelled are reported as cancelled.
func (h *Harvester) AnalyzePages(ctx context.Context, pages []models.WorkUnit) (Analysis, error) {
	delay, err := h.delay(h.cfg.Delay)
	if err != nil {
		return Analysis{}, err
	}
	e, err := engine.New(h.cfg.Workers, delay, h.logger)
	if err != nil {
		return Analysis{}, err
	}

	r, err := h.beginRun(ctx, session.KindAnalyze, firstURL(pages), "")
	if err != nil {
		return Analysis{}, err
	}

	var mu sync.Mutex
	found := make(map[int][]string, len(pages))
	action := func(ctx context.Context, unit models.WorkUnit, seq int) models.FetchResult {
		links, err := h.ResolveDetailLinks(ctx, unit.URL)
		if err != nil {
			return models.Failed(unit, err)
		}
		mu.Lock()
		found[seq] = links
		mu.Unlock()
		return models.FetchResult{Unit: unit, Status: models.StatusSuccess, Detail: fmt.Sprintf("%d detail links", len(links))}
	}

	summary := engine.Collect(e.Run(ctx, pages, action), h.progress("analyze"))

	var links []string
	for seq := 1; seq <= len(pages); seq++ {
		links = append(links, found[seq]...)
	}
	h.finishRun(r, summary, "")
	return Analysis{Links: common.Dedupe(links), Summary: summary}, nil
}

// DownloadBatch downloads image units into the folder dest below the output
// directory. referer is sent with every request; when empty each image URL
// is its own referer. The returned channel delivers one event per unit and
// closes once the run has been recorded.
func (h *Harvester) DownloadBatch(ctx context.Context, units []models.WorkUnit, dest, referer string, workers int, delaySeconds float64) (<-chan models.Progress, error) {
	return h.downloadBatch(ctx, units, dest, referer, workers, delaySeconds, nil)
}

// downloadBatch is DownloadBatch with a fingerprint set shared beyond the
// run. A nil seen uses the run's own set.
func (h *Harvester) downloadBatch(ctx context.Context, units []models.WorkUnit, dest, referer string, workers int, delaySeconds float64, seen dedup.Store) (<-chan models.Progress, error) {
	delay, err := h.delay(delaySeconds)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(workers, delay, h.logger)
	if err != nil {
		return nil, err
	}
	dir, err := h.files.EnsureDir(dest)
	if err != nil {
		return nil, err
	}
	target := referer
	if target == "" {
		target = firstURL(units)
	}
	r, err := h.beginRun(ctx, session.KindImages, target, dir)
	if err != nil {
		return nil, err
	}

	if seen == nil {
		seen = r.seen
	}
	action := download.NewImageDownloader(h.fetcher, h.files, seen, h.cfg.PageTimeout, h.logger).Action(dir, referer)
	events := e.Run(ctx, units, action)

	out := make(chan models.Progress, len(units))
	go func() {
		defer close(out)
		summary := engine.Collect(events, func(p models.Progress) { out <- p })
		h.finishRun(r, summary, "")
	}()
	return out, nil
}

// DownloadPage resolves the images of one detail page and saves them into a
// folder named after the page title, falling back to the category segment
// of the URL and then to "images".
func (h *Harvester) DownloadPage(ctx context.Context, pageURL string) (PageDownload, error) {
	return h.downloadPage(ctx, pageURL, nil)
}

func (h *Harvester) downloadPage(ctx context.Context, pageURL string, seen dedup.Store) (PageDownload, error) {
	pd := PageDownload{PageURL: pageURL}

	assets, err := h.ResolveImages(ctx, pageURL)
	if err != nil {
		pd.Err = err
		return pd, err
	}
	pd.Title = assets.Title
	folder := assets.Title
	if folder == "" {
		folder = h.pages.Category(pageURL)
	}

	if len(assets.URLs) == 0 {
		pd.Err = fmt.Errorf("%s: %w", pageURL, models.ErrNoImages)
		return pd, pd.Err
	}

	events, err := h.downloadBatch(ctx, models.Units(assets.URLs), folder, pageURL, h.cfg.Workers, h.cfg.Delay, seen)
	if err != nil {
		pd.Err = err
		return pd, err
	}
	pd.Summary = engine.Collect(events, h.progress("images"))
	pd.Dir = h.files.TitleDir(folder)
	pd.SummaryPath = filepath.Join(pd.Dir, session.SummaryFile)
	return pd, nil
}

// DownloadPages downloads detail pages one after another with the
// configured pause between them. Identical images are saved once across the
// whole batch. A failing page does not stop the others; pages not started
// before ctx is cancelled are reported as cancelled.
func (h *Harvester) DownloadPages(ctx context.Context, pageURLs []string) []PageDownload {
	delay, err := h.delay(h.cfg.Delay)
	if err != nil {
		delay = engine.DelayPolicy{}
	}
	seen, err := h.newSeen(ctx, "batch-"+h.newRunID())
	if err != nil {
		h.logger.Warn("Falling back to per-page duplicate filtering", "error", err)
	}

	out := make([]PageDownload, 0, len(pageURLs))
	for i, u := range pageURLs {
		if ctx.Err() != nil {
			out = append(out, PageDownload{PageURL: u, Err: models.ErrCancelled})
			continue
		}
		pd, err := h.downloadPage(ctx, u, seen)
		if err != nil {
			h.logger.Warn("Page download failed", "url", u, "error", err)
		}
		out = append(out, pd)
		if i < len(pageURLs)-1 {
			engine.Sleep(ctx, delay.Next())
		}
	}
	return out
}

func firstURL(units []models.WorkUnit) string {
	if len(units) == 0 {
		return ""
	}
	return units[0].URL
}

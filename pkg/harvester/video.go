package harvester

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/artifact_manager"
	"github.com/dtnitsch/picget/pkg/download"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/dtnitsch/picget/pkg/hls"
	"github.com/dtnitsch/picget/pkg/session"
)

const defaultVideoTitle = "video"

// VideoDownload is the outcome of DownloadVideo.
type VideoDownload struct {
	Title      string
	Manifests  []string
	Segments   []string
	Unresolved []hls.Unresolved
	Merge      models.MergeResult
}

// ResolveManifest finds the manifest (or direct .mp4) references of a video page.
func (h *Harvester) ResolveManifest(ctx context.Context, pageURL string) (hls.Located, error) {
	u, raw, err := h.fetchPage(ctx, pageURL, "")
	if err != nil {
		return hls.Located{}, err
	}
	return h.locator.LocateManifests(u, raw)
}

// ResolveSegments resolves a manifest, through any variant playlists, to its
// ordered segments. An empty result is ErrNoSegments.
func (h *Harvester) ResolveSegments(ctx context.Context, manifestURL string) (hls.Resolution, error) {
	u, err := common.SanitizeAndValidateURL(manifestURL)
	if err != nil {
		return hls.Resolution{}, &models.ValidationError{Field: "url", Value: manifestURL, Reason: err.Error()}
	}
	res, err := h.playlists.Resolve(ctx, u)
	if err != nil {
		return res, err
	}
	if len(res.Segments) == 0 {
		return res, fmt.Errorf("%s: %w", u, models.ErrNoSegments)
	}
	return res, nil
}

// ResolveAllSegments concatenates the segments of several manifests in
// order. A manifest that fails or has no segments is skipped and recorded.
func (h *Harvester) ResolveAllSegments(ctx context.Context, manifestURLs []string) hls.Resolution {
	var all hls.Resolution
	for _, m := range manifestURLs {
		if !isManifest(m) {
			all.Segments = append(all.Segments, m)
			continue
		}
		res, err := h.ResolveSegments(ctx, m)
		all.Unresolved = append(all.Unresolved, res.Unresolved...)
		if err != nil {
			h.logger.Warn("Manifest yielded no segments", "url", m, "error", err)
			all.Unresolved = append(all.Unresolved, hls.Unresolved{URL: m, Reason: err.Error()})
			continue
		}
		all.Segments = append(all.Segments, res.Segments...)
	}
	return all
}

// DownloadAndMergeSegments downloads the segments into the folder dest below
// the output directory and concatenates them into <dest>/<title>.mp4. The
// segment files are removed afterwards. With no segment downloaded, no video
// is written and the merge result is empty.
func (h *Harvester) DownloadAndMergeSegments(ctx context.Context, segmentURLs []string, dest, title string, workers int, delaySeconds float64) (models.MergeResult, error) {
	delay, err := h.delay(delaySeconds)
	if err != nil {
		return models.MergeResult{}, err
	}
	e, err := engine.New(workers, delay, h.logger)
	if err != nil {
		return models.MergeResult{}, err
	}
	title = common.SanitizeTitleOr(title, defaultVideoTitle)
	if dest == "" {
		dest = title
	}
	dir, err := h.files.EnsureDir(dest)
	if err != nil {
		return models.MergeResult{}, err
	}
	units := models.Units(segmentURLs)
	r, err := h.beginRun(ctx, session.KindVideo, firstURL(units), dir)
	if err != nil {
		return models.MergeResult{}, err
	}

	var notes []string
	downloader := download.NewSegmentDownloader(h.fetcher, h.files, h.cfg.SegmentTimeout, h.logger)
	if !download.NamesKeepOrder(segmentURLs) {
		downloader.Sequential(true)
		notes = append(notes, "segment files named by playlist position")
	}

	summary := engine.Collect(e.Run(ctx, units, downloader.Action(dir)), h.progress("segments"))

	// Downloaded segments are merged even when the batch was cancelled.
	res, err := download.Merge(context.WithoutCancel(ctx), h.files.Fs(), summary.SuccessfulPaths(),
		artifact_manager.VideoPath(dir, title), h.logger)
	res.Download = summary
	for _, m := range res.Missing {
		notes = append(notes, "missing segment: "+m)
	}
	notes = append(notes, res.DeleteErrors...)
	h.finishRun(r, summary, res.OutputPath, notes...)
	if err != nil {
		return res, fmt.Errorf("failed to merge segments: %w", err)
	}
	return res, nil
}

// DownloadVideo runs the whole video pipeline for one page: locate the
// manifests, resolve them, download and merge. name overrides the title
// found on the page.
func (h *Harvester) DownloadVideo(ctx context.Context, pageURL, name string) (VideoDownload, error) {
	var vd VideoDownload

	located, err := h.ResolveManifest(ctx, pageURL)
	vd.Manifests = located.URLs
	if err != nil {
		return vd, err
	}
	return h.downloadVideo(ctx, located.URLs, name, located.Title, vd)
}

// DownloadManifest is DownloadVideo for an already known manifest URL.
func (h *Harvester) DownloadManifest(ctx context.Context, manifestURL, name string) (VideoDownload, error) {
	return h.downloadVideo(ctx, []string{manifestURL}, name, "", VideoDownload{Manifests: []string{manifestURL}})
}

func (h *Harvester) downloadVideo(ctx context.Context, manifests []string, name, pageTitle string, vd VideoDownload) (VideoDownload, error) {
	vd.Title = common.SanitizeTitleOr(name, "")
	if vd.Title == "" {
		vd.Title = common.SanitizeTitleOr(pageTitle, defaultVideoTitle)
	}

	res := h.ResolveAllSegments(ctx, manifests)
	vd.Segments = res.Segments
	vd.Unresolved = res.Unresolved
	if len(res.Segments) == 0 {
		return vd, fmt.Errorf("%s: %w", strings.Join(manifests, ", "), models.ErrNoSegments)
	}

	merge, err := h.DownloadAndMergeSegments(ctx, res.Segments, vd.Title, vd.Title, h.cfg.Workers, h.cfg.Delay)
	vd.Merge = merge
	return vd, err
}

// isManifest tells playlist references from direct media files.
func isManifest(ref string) bool {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	return !strings.EqualFold(path.Ext(p), ".mp4")
}

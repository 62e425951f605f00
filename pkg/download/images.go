// Package download holds the per-unit engine actions that save images and
// video segments, and the reassembly of downloaded segments.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/artifact_manager"
	"github.com/dtnitsch/picget/pkg/dedup"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/dtnitsch/picget/pkg/extractor"
	"github.com/dtnitsch/picget/pkg/fetcher"
)

const defaultImageExt = ".jpg"

var imageExtByType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/pjpeg":   ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/svg+xml": ".svg",
	"image/avif":    ".avif",
	"image/tiff":    ".tiff",
}

var errEmptyBody = errors.New("empty response body")

type ImageDownloader struct {
	fetcher *fetcher.Fetcher
	files   *artifact_manager.Manager
	seen    dedup.Store
	timeout time.Duration
	logger  *slog.Logger
}

func NewImageDownloader(f *fetcher.Fetcher, files *artifact_manager.Manager, seen dedup.Store, timeout time.Duration, logger *slog.Logger) *ImageDownloader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ImageDownloader{
		fetcher: f,
		files:   files,
		seen:    seen,
		timeout: timeout,
		logger:  logger.With("component", "image_downloader"),
	}
}

// Action saves each image unit into destDir. referer is sent with every
// request; when empty the image URL itself is used.
func (d *ImageDownloader) Action(destDir, referer string) engine.Action {
	return func(ctx context.Context, unit models.WorkUnit, seq int) models.FetchResult {
		ref := referer
		if ref == "" {
			ref = unit.URL
		}

		resp, err := d.fetcher.Get(ctx, unit.URL, ref, d.timeout)
		if err != nil {
			return models.Failed(unit, err)
		}
		if len(resp.Body) == 0 {
			return models.Failed(unit, &models.TransportError{URL: unit.URL, Err: errEmptyBody})
		}

		mediaType := baseMediaType(resp.ContentType)
		if !extractor.HasImageExtension(unit.URL) && !strings.HasPrefix(mediaType, "image/") {
			return models.Failed(unit, &models.TransportError{
				URL: unit.URL,
				Err: fmt.Errorf("not an image: content type %q", resp.ContentType),
			})
		}

		fp := common.ContentHash(resp.Body)
		first, err := d.seen.Claim(ctx, fp)
		if err != nil {
			return models.Failed(unit, fmt.Errorf("failed to check fingerprint: %w", err))
		}
		if !first {
			d.logger.Debug("Duplicate image skipped", "url", unit.URL, "fingerprint", fp)
			return models.FetchResult{
				Unit:        unit,
				Status:      models.StatusSkipped,
				Fingerprint: fp,
				Size:        int64(len(resp.Body)),
				Detail:      "duplicate content",
			}
		}

		path := filepath.Join(destDir, ImageFilename(unit.URL, mediaType, seq))
		if err := d.files.WriteFile(path, resp.Body); err != nil {
			return models.Failed(unit, err)
		}
		return models.FetchResult{
			Unit:        unit,
			Status:      models.StatusSuccess,
			Path:        path,
			Fingerprint: fp,
			Size:        int64(len(resp.Body)),
		}
	}
}

// ImageFilename derives the saved name from the URL path, or image_NNNN when
// the path has none, and makes sure it ends in an image extension.
func ImageFilename(rawURL, mediaType string, seq int) string {
	name := common.FilenameFromURL(rawURL)
	if name == "" {
		name = fmt.Sprintf("image_%04d", seq)
	}
	if extractor.HasImageExtension(name) {
		return name
	}
	ext, ok := imageExtByType[mediaType]
	if !ok {
		ext = defaultImageExt
	}
	return name + ext
}

func baseMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mt
}

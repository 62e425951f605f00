package download

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/artifact_manager"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/dtnitsch/picget/pkg/fetcher"
)

type SegmentDownloader struct {
	fetcher    *fetcher.Fetcher
	files      *artifact_manager.Manager
	timeout    time.Duration
	sequential bool
	logger     *slog.Logger
}

func NewSegmentDownloader(f *fetcher.Fetcher, files *artifact_manager.Manager, timeout time.Duration, logger *slog.Logger) *SegmentDownloader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SegmentDownloader{
		fetcher: f,
		files:   files,
		timeout: timeout,
		logger:  logger.With("component", "segment_downloader"),
	}
}

// Sequential makes every segment file seg_NNNNN.ts regardless of its URL.
func (d *SegmentDownloader) Sequential(on bool) *SegmentDownloader {
	d.sequential = on
	return d
}

// Action streams each segment into destDir. Segments are not content-type
// checked.
func (d *SegmentDownloader) Action(destDir string) engine.Action {
	return func(ctx context.Context, unit models.WorkUnit, seq int) models.FetchResult {
		name := SegmentFilename(unit.URL, seq)
		if d.sequential {
			name = sequenceName(seq)
		}
		path := filepath.Join(destDir, name)

		f, err := d.files.Create(path)
		if err != nil {
			return models.Failed(unit, err)
		}

		n, _, err := d.fetcher.Stream(ctx, unit.URL, unit.URL, d.timeout, f)
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = &models.FilesystemError{Op: "close", Path: path, Err: closeErr}
		}
		if err != nil {
			if rmErr := d.files.Remove(path); rmErr != nil {
				d.logger.Warn("Failed to remove partial segment", "path", path, "error", rmErr)
			}
			return models.Failed(unit, err)
		}

		return models.FetchResult{Unit: unit, Status: models.StatusSuccess, Path: path, Size: n}
	}
}

// SegmentFilename derives the file name from the URL path, or seg_NNNNN.ts.
func SegmentFilename(rawURL string, seq int) string {
	if name := common.FilenameFromURL(rawURL); name != "" {
		return name
	}
	return sequenceName(seq)
}

func sequenceName(seq int) string {
	return fmt.Sprintf("seg_%05d%s", seq, artifact_manager.SegmentExt)
}

// NamesKeepOrder reports whether the URL-derived file names of the segments,
// in playlist order, are unique .ts names and already sorted. When they are
// not, the sort done before merging would reorder the video or a name could
// clash with the merged output.
func NamesKeepOrder(urls []string) bool {
	names := make([]string, len(urls))
	seen := make(map[string]bool, len(urls))
	for i, u := range urls {
		names[i] = SegmentFilename(u, i+1)
		if seen[names[i]] || !strings.EqualFold(filepath.Ext(names[i]), artifact_manager.SegmentExt) {
			return false
		}
		seen[names[i]] = true
	}
	return sort.StringsAreSorted(names)
}

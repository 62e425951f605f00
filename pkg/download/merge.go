package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dtnitsch/picget/models"
	"github.com/spf13/afero"
)

const copyBufferSize = 256 * 1024

// Merge concatenates files into dest in ascending file-name order and then
// deletes them. Files that have gone missing are skipped and reported. With
// no files nothing is written and an empty result is returned.
func Merge(ctx context.Context, fs afero.Fs, files []string, dest string, logger *slog.Logger) (models.MergeResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var res models.MergeResult
	if len(files) == 0 {
		return res, nil
	}

	sorted := append([]string(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		bi, bj := filepath.Base(sorted[i]), filepath.Base(sorted[j])
		if bi != bj {
			return bi < bj
		}
		return sorted[i] < sorted[j]
	})

	out, err := fs.Create(dest)
	if err != nil {
		return res, &models.FilesystemError{Op: "create", Path: dest, Err: err}
	}

	buf := make([]byte, copyBufferSize)
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			_ = fs.Remove(dest)
			return res, fmt.Errorf("merge interrupted: %w", err)
		}

		n, err := appendFile(fs, out, path, buf)
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Segment missing, skipping", "path", path)
			res.Missing = append(res.Missing, path)
			continue
		}
		if err != nil {
			_ = out.Close()
			_ = fs.Remove(dest)
			return res, err
		}
		res.SegmentCount++
		logger.Debug("Segment appended", "path", path, "bytes", n)
	}

	if err := out.Close(); err != nil {
		return res, &models.FilesystemError{Op: "close", Path: dest, Err: err}
	}

	if res.SegmentCount == 0 {
		_ = fs.Remove(dest)
	} else {
		res.OutputPath = dest
	}

	for _, path := range sorted {
		if err := fs.Remove(path); err != nil {
			res.DeleteErrors = append(res.DeleteErrors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		res.DeletedCount++
	}

	logger.Info("Segments merged", "output", res.OutputPath, "segments", res.SegmentCount,
		"deleted", res.DeletedCount, "missing", len(res.Missing))
	return res, nil
}

func appendFile(fs afero.Fs, out io.Writer, path string, buf []byte) (int64, error) {
	in, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
		return 0, &models.FilesystemError{Op: "open", Path: path, Err: err}
	}
	defer in.Close()

	n, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return n, &models.FilesystemError{Op: "copy", Path: path, Err: err}
	}
	return n, nil
}

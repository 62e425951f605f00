package artifact_manager

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/spf13/afero"
)

const (
	DefaultBaseDir = models.DefaultOutputDir
	VideoExt       = ".mp4"
	SegmentExt     = ".ts"
)

// GetTitleDir returns the folder for one title below baseDir.
// Example: picget-downloads/Some Album/
func GetTitleDir(baseDir, title string) string {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	return filepath.Join(baseDir, common.SanitizeTitle(title))
}

// VideoPath returns where the merged video for title lives inside dir.
// Example: picget-downloads/Clip/Clip.mp4
func VideoPath(dir, title string) string {
	return filepath.Join(dir, common.SanitizeTitleOr(title, "video")+VideoExt)
}

// Manager owns the download tree. All file access goes through its afero.Fs
// so tests can run on an in-memory filesystem.
type Manager struct {
	fs      afero.Fs
	baseDir string
}

// NewManager ensures baseDir exists.
func NewManager(fs afero.Fs, baseDir string) (*Manager, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	if err := fs.MkdirAll(baseDir, 0750); err != nil {
		return nil, &models.FilesystemError{Op: "mkdir", Path: baseDir, Err: err}
	}
	return &Manager{fs: fs, baseDir: baseDir}, nil
}

func (m *Manager) Fs() afero.Fs { return m.fs }

func (m *Manager) BaseDir() string { return m.baseDir }

// TitleDir is the folder EnsureDir would create for title.
func (m *Manager) TitleDir(title string) string {
	return GetTitleDir(m.baseDir, title)
}

// EnsureDir creates the folder for title (sanitized) and returns its path.
// An existing folder is reused.
func (m *Manager) EnsureDir(title string) (string, error) {
	dir := GetTitleDir(m.baseDir, title)
	if err := m.fs.MkdirAll(dir, 0750); err != nil {
		return "", &models.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// WriteFile writes data to path, replacing any existing file.
func (m *Manager) WriteFile(path string, data []byte) error {
	if err := afero.WriteFile(m.fs, path, data, 0644); err != nil {
		return &models.FilesystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Create opens path for writing, truncating it.
func (m *Manager) Create(path string) (afero.File, error) {
	f, err := m.fs.Create(path)
	if err != nil {
		return nil, &models.FilesystemError{Op: "create", Path: path, Err: err}
	}
	return f, nil
}

func (m *Manager) Open(path string) (afero.File, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return nil, &models.FilesystemError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}

func (m *Manager) Remove(path string) error {
	if err := m.fs.Remove(path); err != nil {
		return &models.FilesystemError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Exists reports whether path exists. Stat errors other than not-exist count as present.
func (m *Manager) Exists(path string) bool {
	_, err := m.fs.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// List returns the files in dir with the given extension (any when ext is
// empty), sorted by name.
func (m *Manager) List(dir, ext string) ([]string, error) {
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return nil, &models.FilesystemError{Op: "readdir", Path: dir, Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

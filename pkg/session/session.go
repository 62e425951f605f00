package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dtnitsch/picget/models"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	SummaryFile = "picget-summary.yaml"
	IndexFile   = "index.yaml"

	maxFailuresListed = 50
)

// Run kinds.
const (
	KindImages  = "images"
	KindVideo   = "video"
	KindAnalyze = "analyze"
)

// Failure is one failed unit as written to the summary.
type Failure struct {
	URL   string `yaml:"url"`
	Type  string `yaml:"type"`
	Error string `yaml:"error"`
}

// RunSummary is written next to the artifacts of every run.
type RunSummary struct {
	RunID     string    `yaml:"run_id"`
	Kind      string    `yaml:"kind"`
	Target    string    `yaml:"target"`
	OutputDir string    `yaml:"output_dir"`
	Output    string    `yaml:"output,omitempty"`
	Started   time.Time `yaml:"started"`
	Finished  time.Time `yaml:"finished"`
	Total     int       `yaml:"total"`
	Succeeded int       `yaml:"succeeded"`
	Skipped   int       `yaml:"skipped"`
	Failed    int       `yaml:"failed"`
	Failures  []Failure `yaml:"failures,omitempty"`
	Notes     []string  `yaml:"notes,omitempty"`
}

// NewRunSummary fills the counters and failures from a batch.
func NewRunSummary(runID, kind, target, outputDir string, started time.Time, batch models.BatchSummary) RunSummary {
	s := RunSummary{
		RunID:     runID,
		Kind:      kind,
		Target:    target,
		OutputDir: outputDir,
		Started:   started,
		Finished:  time.Now(),
		Total:     batch.Total,
		Succeeded: batch.Succeeded,
		Skipped:   batch.Skipped,
		Failed:    batch.Failed,
	}
	for _, r := range batch.Failures() {
		if len(s.Failures) == maxFailuresListed {
			s.Notes = append(s.Notes, fmt.Sprintf("%d more failures not listed", batch.Failed-maxFailuresListed))
			break
		}
		s.Failures = append(s.Failures, Failure{URL: r.Unit.URL, Type: models.ErrorType(r.Err), Error: r.Detail})
	}
	return s
}

// RunInfo is one line of the run index at the output root.
type RunInfo struct {
	RunID     string    `yaml:"run_id"`
	Kind      string    `yaml:"kind"`
	Target    string    `yaml:"target"`
	Started   time.Time `yaml:"started"`
	Succeeded int       `yaml:"succeeded"`
	Failed    int       `yaml:"failed"`
	Summary   string    `yaml:"summary"`
}

// RunIndex is the index.yaml file.
type RunIndex struct {
	Runs []RunInfo `yaml:"runs"`
}

// WriteSummary writes the summary into dir and returns its path.
func WriteSummary(fs afero.Fs, dir string, s RunSummary) (string, error) {
	path := filepath.Join(dir, SummaryFile)
	out, err := yaml.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", &models.FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}
	if err := afero.WriteFile(fs, path, out, 0644); err != nil {
		return "", &models.FilesystemError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(fs afero.Fs, dir string) (RunSummary, error) {
	var s RunSummary
	data, err := afero.ReadFile(fs, filepath.Join(dir, SummaryFile))
	if err != nil {
		return s, fmt.Errorf("failed to read run summary: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse run summary: %w", err)
	}
	return s, nil
}

// UpdateRunIndex adds or replaces the entry for info.RunID in
// baseDir/index.yaml, newest run first.
func UpdateRunIndex(fs afero.Fs, baseDir string, info RunInfo) error {
	indexPath := filepath.Join(baseDir, IndexFile)

	var index RunIndex
	data, err := afero.ReadFile(fs, indexPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read run index: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &index); err != nil {
			return fmt.Errorf("failed to parse run index: %w", err)
		}
	}

	found := false
	for i, r := range index.Runs {
		if r.RunID == info.RunID {
			index.Runs[i] = info
			found = true
			break
		}
	}
	if !found {
		index.Runs = append(index.Runs, info)
	}

	sort.SliceStable(index.Runs, func(i, j int) bool {
		return index.Runs[i].Started.After(index.Runs[j].Started)
	})

	out, err := yaml.Marshal(&index)
	if err != nil {
		return fmt.Errorf("failed to marshal run index: %w", err)
	}
	if err := afero.WriteFile(fs, indexPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write run index: %w", err)
	}
	return nil
}

// Info builds the index entry for a summary stored at summaryPath.
func (s RunSummary) Info(summaryPath string) RunInfo {
	return RunInfo{
		RunID:     s.RunID,
		Kind:      s.Kind,
		Target:    s.Target,
		Started:   s.Started,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Summary:   summaryPath,
	}
}

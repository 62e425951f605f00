package models

// WorkUnit is one fetchable item: a page, an image, a manifest or a segment.
type WorkUnit struct {
	URL         string `yaml:"url" json:"url"`
	DisplayName string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Units wraps plain URLs, using the URL itself as display name.
func Units(urls []string) []WorkUnit {
	units := make([]WorkUnit, len(urls))
	for i, u := range urls {
		units[i] = WorkUnit{URL: u, DisplayName: u}
	}
	return units
}

// Status is the terminal state of a unit in a batch.
type Status int

const (
	StatusFailed Status = iota
	StatusSuccess
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// FetchResult is produced once per unit by the engine and never mutated afterwards.
type FetchResult struct {
	Unit        WorkUnit
	Seq         int // 1-based position of the unit in its batch
	Status      Status
	Path        string // written file, if any
	Fingerprint string
	Size        int64
	Detail      string
	Err         error
}

// Failed builds a failed result carrying err.
func Failed(unit WorkUnit, err error) FetchResult {
	return FetchResult{Unit: unit, Status: StatusFailed, Err: err, Detail: err.Error()}
}

// Progress is published by the engine after every finished unit.
type Progress struct {
	Completed int
	Total     int
	Last      FetchResult
}

// BatchSummary aggregates the results of one batch.
type BatchSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Results   []FetchResult
}

// Add counts one result.
func (b *BatchSummary) Add(r FetchResult) {
	b.Results = append(b.Results, r)
	switch r.Status {
	case StatusSuccess:
		b.Succeeded++
	case StatusSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
}

// Failures returns the failed results in arrival order.
func (b *BatchSummary) Failures() []FetchResult {
	var out []FetchResult
	for _, r := range b.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// SuccessfulPaths returns the paths written by successful units.
func (b *BatchSummary) SuccessfulPaths() []string {
	var out []string
	for _, r := range b.Results {
		if r.Status == StatusSuccess && r.Path != "" {
			out = append(out, r.Path)
		}
	}
	return out
}

// PaginationSource records which heuristic produced a page set.
type PaginationSource string

const (
	SourceLastPage     PaginationSource = "last-page-marker"
	SourceIndexedLinks PaginationSource = "indexed-links"
	SourceNone         PaginationSource = "none"
)

// PageSet is the result of pagination discovery. Determined is false when
// every heuristic failed and the seed page was returned alone.
type PageSet struct {
	Pages      []WorkUnit
	Title      string
	Source     PaginationSource
	Determined bool
}

// Manifest is a parsed HLS playlist. A manifest with segments is terminal.
type Manifest struct {
	Segments       []string
	ChildManifests []string
}

// Terminal reports whether the manifest lists segments directly.
func (m Manifest) Terminal() bool {
	return len(m.Segments) > 0
}

// MergeResult reports a segment reassembly.
type MergeResult struct {
	OutputPath   string
	SegmentCount int
	DeletedCount int
	Missing      []string
	DeleteErrors []string
	Download     BatchSummary
}

package setup

import (
	"fmt"
	"io"
	"sync"

	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/engine"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"
)

// Progress draws one progress bar per stage. A bar is replaced when a new
// batch of the same stage starts.
type Progress struct {
	mu     sync.Mutex
	out    io.Writer
	hidden bool
	bars   map[string]*progressbar.ProgressBar
}

func NewProgress(out io.Writer, hidden bool) *Progress {
	return &Progress{out: out, hidden: hidden, bars: make(map[string]*progressbar.ProgressBar)}
}

// Update moves the bar of stage to ev.Completed.
func (p *Progress) Update(stage string, ev models.Progress) {
	if p.hidden || ev.Total == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[stage]
	if !ok || ev.Completed == 1 {
		bar = progressbar.NewOptions64(int64(ev.Total),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(stage),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.out) }),
		)
		p.bars[stage] = bar
	}
	_ = bar.Set(ev.Completed)
}

// Drain consumes a batch channel, drawing the bar of stage, and returns the
// summary once the channel closes.
func (p *Progress) Drain(stage string, events <-chan models.Progress) models.BatchSummary {
	return engine.Collect(events, func(ev models.Progress) { p.Update(stage, ev) })
}

// PrintSummary writes the counts of a batch and every failure.
func PrintSummary(w io.Writer, label string, s models.BatchSummary) {
	fmt.Fprintf(w, "%s: %d total, %d succeeded, %d skipped, %d failed\n",
		label, s.Total, s.Succeeded, s.Skipped, s.Failed)
	for _, r := range s.Failures() {
		fmt.Fprintf(w, "  FAILED [%s] %s: %s\n", models.ErrorType(r.Err), r.Unit.URL, r.Detail)
	}
}

// PrintYAML writes v to w as YAML.
func PrintYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

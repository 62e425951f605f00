// Package hls finds HLS manifests on a video page and resolves them, through
// any number of variant playlists, to the list of media segments.
package hls

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/decoder"
)

var (
	jsonManifestPattern = regexp.MustCompile(`"url"\s*:\s*"([^"]+\.m3u8[^"]*)"`)
	bareManifestPattern = regexp.MustCompile(`(https?://[^\s"']+\.m3u8[^\s"']*)`)
	videoSrcPattern     = regexp.MustCompile(`src="([^"]+\.mp4[^"]*)"`)
)

// Located is the outcome of a manifest search. Title is only a suggestion
// for the output name.
type Located struct {
	URLs  []string `yaml:"urls"`
	Title string   `yaml:"title,omitempty"`
	// Scope tells whether the match came from the player region or the whole page.
	Scope string `yaml:"scope,omitempty"`
}

type Locator struct {
	decoder        *decoder.Decoder
	playerSelector string
	logger         *slog.Logger
}

func NewLocator(d *decoder.Decoder, playerSelector string, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{
		decoder:        d,
		playerSelector: playerSelector,
		logger:         logger.With("component", "manifest_locator"),
	}
}

// LocateManifests searches, in order, the player region for a JSON "url"
// field, the player region for bare manifest URLs and .mp4 sources, the whole
// page for the JSON field and the whole page for bare URLs and sources. The
// first step that finds anything wins.
func (l *Locator) LocateManifests(pageURL string, raw []byte) (Located, error) {
	doc := l.decoder.Decode(raw)
	title, _ := l.decoder.Title(doc)
	located := Located{Title: title}

	page, err := goquery.NewDocumentFromReader(strings.NewReader(doc.HTML))
	if err != nil {
		return located, &models.DecodeError{Stage: "html", Err: err}
	}

	var region *goquery.Selection
	var regionHTML string
	if l.playerSelector != "" {
		if sel := page.Find(l.playerSelector).First(); sel.Length() > 0 {
			if outer, err := goquery.OuterHtml(sel); err == nil {
				region = sel
				regionHTML = html.UnescapeString(outer)
			}
		}
	}

	steps := []struct {
		scope string
		find  func() []string
	}{
		{"player", func() []string { return jsonURLs(regionHTML) }},
		{"player", func() []string { return append(bareURLs(regionHTML), videoSources(region)...) }},
		{"page", func() []string { return jsonURLs(doc.HTML) }},
		{"page", func() []string {
			return append(bareURLs(doc.HTML), append(videoSources(page.Selection), srcMatches(doc.HTML)...)...)
		}},
	}

	for _, step := range steps {
		found := step.find()
		if len(found) == 0 {
			continue
		}
		urls := make([]string, 0, len(found))
		for _, u := range found {
			urls = append(urls, common.Resolve(pageURL, u))
		}
		located.URLs = common.Dedupe(urls)
		located.Scope = step.scope
		l.logger.Info("Manifest located", "url", pageURL, "count", len(located.URLs), "scope", step.scope)
		return located, nil
	}

	return located, fmt.Errorf("%s: %w", pageURL, models.ErrNoManifest)
}

func unescapeSlashes(s string) string {
	return strings.ReplaceAll(s, `\/`, "/")
}

func jsonURLs(text string) []string {
	if text == "" {
		return nil
	}
	m := jsonManifestPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return []string{unescapeSlashes(m[1])}
}

func bareURLs(text string) []string {
	if text == "" {
		return nil
	}
	return bareManifestPattern.FindAllString(unescapeSlashes(text), -1)
}

// videoSources reads .mp4 src attributes structurally.
func videoSources(sel *goquery.Selection) []string {
	if sel == nil {
		return nil
	}
	var out []string
	sel.Find("[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if strings.Contains(strings.ToLower(src), ".mp4") {
			out = append(out, src)
		}
	})
	return out
}

// srcMatches catches src attributes inside script text that the parser does
// not expose as elements.
func srcMatches(text string) []string {
	var out []string
	for _, m := range videoSrcPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

package extractor

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/pkg/decoder"
)

var imgSrcPattern = regexp.MustCompile(`<img[^>]+src=['"]([^'"]+)['"]`)

// ImageExtensions are the still-image extensions accepted without a content-type check.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// Assets is what a page offers for download.
type Assets struct {
	URLs  []string `yaml:"urls"`
	Title string   `yaml:"title,omitempty"`
}

type Extractor struct {
	decoder *decoder.Decoder
}

func NewExtractor(d *decoder.Decoder) *Extractor {
	return &Extractor{decoder: d}
}

// Extract collects image sources. The decoded payload is scanned first; the
// raw page is parsed structurally when there is no payload or it has no images.
func (e *Extractor) Extract(doc decoder.Document) Assets {
	var urls []string
	if doc.Encoded {
		for _, m := range imgSrcPattern.FindAllStringSubmatch(doc.HTML, -1) {
			urls = append(urls, strings.TrimSpace(m[1]))
		}
	}
	if len(urls) == 0 {
		urls = structuralImages(doc.Raw)
	}

	title, _ := e.decoder.Title(doc)
	return Assets{URLs: common.Dedupe(nonEmpty(urls)), Title: title}
}

// structuralImages parses raw with goquery and returns every img source,
// falling back to lazy-load attributes when src is empty.
func structuralImages(raw []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				urls = append(urls, strings.TrimSpace(v))
				return
			}
		}
	})
	return urls
}

func nonEmpty(items []string) []string {
	out := items[:0]
	for _, it := range items {
		if it != "" {
			out = append(out, it)
		}
	}
	return out
}

// ResolveAll makes every URL absolute against base, keeping order and dropping repeats.
func ResolveAll(base string, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		out = append(out, common.Resolve(base, u))
	}
	return common.Dedupe(out)
}

// HasImageExtension reports whether the URL path ends in a still-image extension.
// The query string is ignored.
func HasImageExtension(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsImageCandidate is the loose pre-download filter: an image extension, or
// the word "image" anywhere in the URL.
func IsImageCandidate(rawURL string) bool {
	return HasImageExtension(rawURL) || strings.Contains(strings.ToLower(rawURL), "image")
}

// FilterImages keeps the candidates in order.
func FilterImages(urls []string) []string {
	var out []string
	for _, u := range urls {
		if IsImageCandidate(u) {
			out = append(out, u)
		}
	}
	return out
}

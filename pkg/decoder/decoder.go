// Package decoder turns obfuscated listing pages back into HTML and recovers
// page titles whose charset was not declared correctly.
package decoder

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dtnitsch/picget/models"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

var (
	titlePattern    = regexp.MustCompile(`(?is)<title[^>]*>([^<]+)</title>`)
	hasTitleTag     = regexp.MustCompile(`(?i)<title[\s>]`)
	declaredCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-zA-Z0-9_\-]+)`)
)

// Document is a decoded page. HTML is the working text: the de-obfuscated
// payload when one was present, the raw body otherwise.
type Document struct {
	Raw     []byte
	HTML    string
	Encoded bool
	// Err is set when a payload was found but could not be unescaped.
	Err error
}

// Decoder knows the name of the script variable that carries the payload
// and the ordered encodings tried for title recovery.
type Decoder struct {
	varName   string
	payload   *regexp.Regexp
	encodings []string
	logger    *slog.Logger
}

func NewDecoder(varName string, encodings []string, logger *slog.Logger) *Decoder {
	if varName == "" {
		varName = "_h"
	}
	if len(encodings) == 0 {
		encodings = []string{"utf-8", "gbk", "gb18030"}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decoder{
		varName:   varName,
		payload:   regexp.MustCompile(`var\s+` + regexp.QuoteMeta(varName) + `\s*=\s*"([^"]+)"`),
		encodings: encodings,
		logger:    logger.With("component", "decoder"),
	}
}

// Decode extracts and double-unescapes the payload. It never fails: a
// malformed payload is recorded on Document.Err and the raw body is used.
func (d *Decoder) Decode(raw []byte) Document {
	doc := Document{Raw: raw, HTML: string(raw)}

	m := d.payload.FindSubmatch(raw)
	if m == nil {
		return doc
	}

	html, err := unescapeTwice(string(m[1]))
	if err != nil {
		doc.Err = &models.DecodeError{Stage: "payload", Err: err}
		d.logger.Warn("Failed to decode payload, using raw page", "error", err)
		return doc
	}
	doc.HTML = html
	doc.Encoded = true
	return doc
}

func unescapeTwice(s string) (string, error) {
	once, err := url.PathUnescape(s)
	if err != nil {
		return "", fmt.Errorf("first unescape: %w", err)
	}
	twice, err := url.PathUnescape(once)
	if err != nil {
		return "", fmt.Errorf("second unescape: %w", err)
	}
	return twice, nil
}

// Encode is the inverse of the payload decoding.
func Encode(html string) string {
	return url.PathEscape(url.PathEscape(html))
}

// Title recovers the page title. The <title> of the working HTML is preferred
// over the raw body's. ok is false when no candidate charset yields clean text.
func (d *Decoder) Title(doc Document) (string, bool) {
	var sources []string
	if doc.Encoded {
		sources = append(sources, doc.HTML)
	}
	sources = append(sources, string(doc.Raw))

	encodings := d.encodings
	if m := declaredCharset.FindSubmatch(doc.Raw); m != nil {
		encodings = append([]string{string(m[1])}, encodings...)
	}

	for _, src := range sources {
		m := titlePattern.FindStringSubmatch(src)
		if m == nil {
			continue
		}
		captured := strings.TrimSpace(m[1])
		if captured == "" {
			continue
		}
		for _, b := range titleCandidates(captured) {
			if title, ok := decodeTitle(b, encodings); ok {
				return title, true
			}
		}
		d.logger.Debug("No charset produced a clean title", "raw", captured)
	}
	return "", false
}

// TitleOrReadability falls back to readability when the page has no <title>
// element at all.
func (d *Decoder) TitleOrReadability(doc Document, pageURL string) (string, bool) {
	if title, ok := d.Title(doc); ok {
		return title, true
	}
	if hasTitleTag.MatchString(doc.HTML) || hasTitleTag.Match(doc.Raw) {
		return "", false
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	p := readability.NewParser()
	article, err := p.Parse(strings.NewReader(doc.HTML), u)
	if err != nil {
		d.logger.Debug("Readability failed", "url", pageURL, "error", err)
		return "", false
	}
	title := strings.TrimSpace(article.Title)
	if title == "" || strings.ContainsRune(title, utf8.RuneError) {
		return "", false
	}
	return title, true
}

// titleCandidates returns the byte sequences a captured title may have come
// from, most likely first. Text whose runes all fit in one byte can also be
// folded back through ISO-8859-1, which undoes a latin-1 mis-decoding
// upstream. Sparse accented letters read as genuine text and are kept as is
// first; anything else is folded first.
func titleCandidates(s string) [][]byte {
	folded, ok := latin1Fold(s)
	if !ok {
		return [][]byte{[]byte(s)}
	}
	if looksLatin(s) {
		return [][]byte{[]byte(s), folded}
	}
	return [][]byte{folded, []byte(s)}
}

func latin1Fold(s string) ([]byte, bool) {
	wide := false
	for _, r := range s {
		if r > 0xFF {
			return nil, false
		}
		if r >= 0x80 {
			wide = true
		}
	}
	if !wide {
		return nil, false
	}
	folded, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return nil, false
	}
	return []byte(folded), true
}

// looksLatin reports whether every non-ASCII rune is a letter standing
// between ASCII runes. Mis-decoded double-byte text produces runs of
// high runes and symbols such as ® or ¼.
func looksLatin(s string) bool {
	prevHigh := false
	for _, r := range s {
		if r < 0x80 {
			prevHigh = false
			continue
		}
		if prevHigh || !unicode.IsLetter(r) {
			return false
		}
		prevHigh = true
	}
	return true
}

// decodeTitle tries each encoding in order and accepts the first clean decoding.
func decodeTitle(b []byte, encodings []string) (string, bool) {
	for _, label := range encodings {
		if s, ok := decodeAs(b, label); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func decodeAs(b []byte, label string) (string, bool) {
	enc, name := charset.Lookup(label)
	if enc == nil {
		return "", false
	}
	if name == "utf-8" {
		if !utf8.Valid(b) || bytes.ContainsRune(b, utf8.RuneError) {
			return "", false
		}
		return string(b), true
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

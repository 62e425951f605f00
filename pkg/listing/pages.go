// Package listing discovers the pages of a paginated gallery and the detail
// pages linked from each listing page.
package listing

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/decoder"
)

// MaxPages bounds the page count read from a listing.
const MaxPages = 10000

var indexedLinkPattern = regexp.MustCompile(`href="([^"]*index_(\d+)\.html)"`)

type Resolver struct {
	cfg      *models.Config
	decoder  *decoder.Decoder
	lastPage *regexp.Regexp
	category *regexp.Regexp
	logger   *slog.Logger
}

func NewResolver(cfg *models.Config, d *decoder.Decoder, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	label := regexp.QuoteMeta(cfg.LastPageLabel)
	marker := regexp.QuoteMeta(cfg.CategoryMarker)
	return &Resolver{
		cfg:      cfg,
		decoder:  d,
		lastPage: regexp.MustCompile(`<a[^>]+href="([^"]*index_(\d+)\.html)"[^>]*>\s*` + label + `\s*</a>`),
		category: regexp.MustCompile(`/` + marker + `/([^/]+)/`),
		logger:   logger.With("component", "listing"),
	}
}

// ParsePages turns a seed page into the list of all its pages. When no
// pagination is found the seed is returned alone with Determined false;
// that is an error only if RequireMultiPage is set.
func (r *Resolver) ParsePages(seed string, raw []byte) (models.PageSet, error) {
	seedURL, err := url.Parse(seed)
	if err != nil || seedURL.Scheme == "" || seedURL.Host == "" {
		return models.PageSet{}, &models.ValidationError{Field: "url", Value: seed, Reason: "must be an absolute URL"}
	}

	doc := r.decoder.Decode(raw)
	title, ok := r.decoder.Title(doc)
	if !ok {
		title = r.Category(seed)
	}

	set := models.PageSet{Title: title, Source: models.SourceNone}

	if m := r.lastPage.FindStringSubmatch(doc.HTML); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n >= 2 {
			set.Pages = buildPages(seed, title, n, pageTemplate(seed, m[1]))
			set.Source = models.SourceLastPage
			set.Determined = true
		}
	}

	if !set.Determined {
		if matches := indexedLinkPattern.FindAllSubmatch(raw, -1); len(matches) > 0 {
			maxPage := 0
			for _, m := range matches {
				if n, err := strconv.Atoi(string(m[2])); err == nil && n > maxPage {
					maxPage = n
				}
			}
			if maxPage >= 2 {
				set.Pages = buildPages(seed, title, maxPage, pageTemplate(seed, string(matches[0][1])))
				set.Source = models.SourceIndexedLinks
				set.Determined = true
			}
		}
	}

	if !set.Determined {
		set.Pages = []models.WorkUnit{{URL: seed, DisplayName: pageName(title, 1)}}
		r.logger.Info("No pagination found", "url", seed)
		if r.cfg.RequireMultiPage {
			return set, fmt.Errorf("%s: %w", seed, models.ErrPaginationNotFound)
		}
		return set, nil
	}

	r.logger.Info("Pagination resolved", "url", seed, "pages", len(set.Pages), "source", set.Source)
	return set, nil
}

// Category returns the path segment that follows the category marker, or "".
func (r *Resolver) Category(pageURL string) string {
	p := pageURL
	if u, err := url.Parse(pageURL); err == nil {
		p = u.Path
	}
	if m := r.category.FindStringSubmatch(p); m != nil {
		return m[1]
	}
	return ""
}

func buildPages(seed, title string, n int, pageURL func(int) string) []models.WorkUnit {
	if n > MaxPages {
		n = MaxPages
	}
	pages := make([]models.WorkUnit, 0, n)
	pages = append(pages, models.WorkUnit{URL: seed, DisplayName: pageName(title, 1)})
	for i := 2; i <= n; i++ {
		pages = append(pages, models.WorkUnit{URL: pageURL(i), DisplayName: pageName(title, i)})
	}
	return pages
}

func pageName(title string, i int) string {
	if i == 1 {
		if title == "" {
			return "images"
		}
		return title
	}
	if title == "" {
		return fmt.Sprintf("page_%d", i)
	}
	return fmt.Sprintf("%s_%d", title, i)
}

// pageTemplate resolves href against the seed and numbers pages in the
// directory that holds its index_N.html.
func pageTemplate(seed, href string) func(int) string {
	abs := common.Resolve(seed, href)
	dir := abs
	if i := strings.LastIndex(abs, "/index_"); i >= 0 {
		dir = abs[:i]
	}
	return func(i int) string {
		return fmt.Sprintf("%s/index_%d.html", dir, i)
	}
}

package listing

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(mutate ...func(*models.Config)) *Resolver {
	cfg := models.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	return NewResolver(cfg, decoder.NewDecoder(cfg.ObfuscationVar, cfg.TitleEncodings, nil), nil)
}

func TestParsePages_LastPageMarker(t *testing.T) {
	r := newResolver()
	html := `<title>title</title><div class="pager">
<a href="/cat/index_2.html">2</a><a href="/cat/index_5.html">尾页</a></div>`

	set, err := r.ParsePages("https://h/cat/", wrapPayload("_h", html))
	require.NoError(t, err)
	assert.True(t, set.Determined)
	assert.Equal(t, models.SourceLastPage, set.Source)
	require.Len(t, set.Pages, 5)

	assert.Equal(t, models.WorkUnit{URL: "https://h/cat/", DisplayName: "title"}, set.Pages[0])
	for i := 2; i <= 5; i++ {
		assert.Equal(t, fmt.Sprintf("https://h/cat/index_%d.html", i), set.Pages[i-1].URL)
		assert.Equal(t, fmt.Sprintf("title_%d", i), set.Pages[i-1].DisplayName)
	}
}

func TestParsePages_IndexedLinksFallback(t *testing.T) {
	r := newResolver()
	raw := []byte(`<html><body>
<a href="/art/pic/index_2.html">2</a>
<a href="/art/pic/index_7.html">7</a>
<a href="/art/pic/index_3.html">3</a>
</body></html>`)

	set, err := r.ParsePages("https://www.example.com/art/pic/", raw)
	require.NoError(t, err)
	assert.Equal(t, models.SourceIndexedLinks, set.Source)
	require.Len(t, set.Pages, 7)
	// No <title>: the category segment names the pages.
	assert.Equal(t, "pic", set.Pages[0].DisplayName)
	assert.Equal(t, "https://www.example.com/art/pic/index_7.html", set.Pages[6].URL)
	assert.Equal(t, "pic_7", set.Pages[6].DisplayName)
}

func TestParsePages_HrefForms(t *testing.T) {
	seed := "https://www.example.com/art/pic/"
	tests := []struct {
		name string
		raw  []byte
	}{
		{
			name: "relative indexed links",
			raw:  []byte(`<a href="index_2.html">2</a><a href="index_3.html">3</a>`),
		},
		{
			name: "absolute indexed links",
			raw:  []byte(`<a href="https://www.example.com/art/pic/index_2.html">2</a><a href="https://www.example.com/art/pic/index_3.html">3</a>`),
		},
		{
			name: "relative last page marker",
			raw:  wrapPayload("_h", `<a href="index_3.html">尾页</a>`),
		},
		{
			name: "absolute last page marker",
			raw:  wrapPayload("_h", `<a href="https://www.example.com/art/pic/index_3.html">尾页</a>`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := newResolver().ParsePages(seed, tt.raw)
			require.NoError(t, err)
			require.True(t, set.Determined)
			require.Len(t, set.Pages, 3)
			assert.Equal(t, seed, set.Pages[0].URL)
			assert.Equal(t, "https://www.example.com/art/pic/index_2.html", set.Pages[1].URL)
			assert.Equal(t, "https://www.example.com/art/pic/index_3.html", set.Pages[2].URL)
		})
	}
}

func TestParsePages_NoPagination(t *testing.T) {
	raw := []byte(`<html><body><p>single</p></body></html>`)

	set, err := newResolver().ParsePages("https://www.example.com/gallery/", raw)
	require.NoError(t, err)
	assert.False(t, set.Determined)
	assert.Equal(t, models.SourceNone, set.Source)
	assert.Equal(t, []models.WorkUnit{{URL: "https://www.example.com/gallery/", DisplayName: "images"}}, set.Pages)

	strict := newResolver(func(c *models.Config) { c.RequireMultiPage = true })
	set, err = strict.ParsePages("https://www.example.com/gallery/", raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPaginationNotFound))
	assert.True(t, errors.Is(err, models.ErrPatternNotFound))
	assert.Len(t, set.Pages, 1)
}

func TestParsePages_UntitledNames(t *testing.T) {
	html := `<a href="/x/index_3.html">尾页</a>`
	set, err := newResolver().ParsePages("https://h/x/", wrapPayload("_h", html))
	require.NoError(t, err)
	require.Len(t, set.Pages, 3)
	assert.Equal(t, "images", set.Pages[0].DisplayName)
	assert.Equal(t, "page_2", set.Pages[1].DisplayName)
	assert.Equal(t, "page_3", set.Pages[2].DisplayName)
}

func TestParsePages_InvalidSeed(t *testing.T) {
	_, err := newResolver().ParsePages("not a url", nil)
	var ve *models.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestParseDetailLinks(t *testing.T) {
	tests := []struct {
		name   string
		page   string
		raw    []byte
		origin string
		want   []string
	}{
		{
			name: "category links in payload",
			page: "https://www.example.com/art/pic/index_2.html",
			raw: wrapPayload("_h", `<a href="/art/pic/101/">a</a><a class="x" href="/art/pic/102/">b</a>
<a href="/art/pic/101/">dup</a><a href="/art/other/5/">other</a>`),
			want: []string{"https://www.example.com/art/pic/101/", "https://www.example.com/art/pic/102/"},
		},
		{
			name:   "numeric links when category misses",
			page:   "https://www.example.com/art/pic/",
			raw:    wrapPayload("_h", `<a href="/art/123456/">a</a><a href="/art/12345/">short</a><a href="/art/7654321/">b</a>`),
			origin: "https://mirror.example.net/",
			want:   []string{"https://mirror.example.net/art/123456/", "https://mirror.example.net/art/7654321/"},
		},
		{
			name: "raw body without payload",
			page: "https://www.example.com/art/pic/",
			raw:  []byte(`<div><a href="/art/pic/9/">x</a><span href="/art/pic/8/"></span></div>`),
			want: []string{"https://www.example.com/art/pic/9/", "https://www.example.com/art/pic/8/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(func(c *models.Config) { c.SiteOrigin = tt.origin })
			got, err := r.ParseDetailLinks(tt.page, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDetailLinks_Cap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&sb, `<a href="/art/pic/%d/">%d</a>`, i, i)
	}
	r := newResolver()
	got, err := r.ParseDetailLinks("https://h/art/pic/", wrapPayload("_h", sb.String()))
	require.NoError(t, err)
	assert.Len(t, got, models.DefaultMaxDetailLinks)
	assert.Equal(t, "https://h/art/pic/0/", got[0])
}

func TestParseDetailLinks_NotFound(t *testing.T) {
	_, err := newResolver().ParseDetailLinks("https://h/art/pic/", []byte("<html></html>"))
	assert.True(t, errors.Is(err, models.ErrNoDetailLinks))
}

func TestCategory(t *testing.T) {
	r := newResolver()
	assert.Equal(t, "toupai", r.Category("https://h/art/toupai/123/"))
	assert.Equal(t, "", r.Category("https://h/gallery/"))
}

// wrapPayload embeds html in a page the way the target site does.
func wrapPayload(varName, html string) []byte {
	return []byte(`<html><head><script>var ` + varName + `="` + decoder.Encode(html) + `";</script></head><body></body></html>`)
}

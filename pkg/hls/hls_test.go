package hls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *mapFetcher) GetPage(_ context.Context, url, _ string, _ time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	body, ok := f.pages[url]
	if !ok {
		return nil, &models.TransportError{URL: url, StatusCode: 404}
	}
	return []byte(body), nil
}

func TestParsePlaylist_Segments(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\na.ts\n#EXTINF:10,\nb.ts\n#EXT-X-ENDLIST\n"
	m := ParsePlaylist(text, "https://v.example.com/hls/1/index.m3u8")
	assert.Equal(t, []string{
		"https://v.example.com/hls/1/a.ts",
		"https://v.example.com/hls/1/b.ts",
	}, m.Segments)
	assert.Empty(t, m.ChildManifests)
	assert.True(t, m.Terminal())
}

func TestParsePlaylist_Variants(t *testing.T) {
	text := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000",
		"",
		"# comment between tag and uri",
		"low/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=1600000",
		"https://cdn.example.com/high/index.m3u8?token=1",
	}, "\r\n")
	m := ParsePlaylist(text, "https://v.example.com/hls/master.m3u8")
	assert.Empty(t, m.Segments)
	assert.Equal(t, []string{
		"https://v.example.com/hls/low/index.m3u8",
		"https://cdn.example.com/high/index.m3u8?token=1",
	}, m.ChildManifests)
}

func TestParsePlaylist_SegmentWithQueryAndAbsolutePath(t *testing.T) {
	text := "#EXTINF:4,\n/seg/000.ts?sig=abc\n#EXTINF:4,\nhttps://cdn.example.com/001.TS\nnot-a-segment.key\n"
	m := ParsePlaylist(text, "https://v.example.com/a/b/index.m3u8")
	assert.Equal(t, []string{
		"https://v.example.com/seg/000.ts?sig=abc",
		"https://cdn.example.com/001.TS",
	}, m.Segments)
}

func TestResolve_Terminal(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://h/v/index.m3u8": "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nchild.m3u8\n#EXTINF:1,\na.ts\n#EXTINF:1,\nb.ts\n",
	}}
	res, err := NewResolver(f, 5, time.Second, nil).Resolve(context.Background(), "https://h/v/index.m3u8")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://h/v/a.ts", "https://h/v/b.ts"}, res.Segments)
	// Children of a terminal playlist are never followed.
	assert.Equal(t, []string{"https://h/v/index.m3u8"}, f.calls)
}

func TestResolve_TwoEmptyVariants(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://h/master.m3u8": "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nv1.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=2\nv2.m3u8\n",
		"https://h/v1.m3u8":     "#EXTM3U\n#EXT-X-ENDLIST\n",
		"https://h/v2.m3u8":     "#EXTM3U\n#EXT-X-ENDLIST\n",
	}}
	res, err := NewResolver(f, 5, time.Second, nil).Resolve(context.Background(), "https://h/master.m3u8")
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	assert.Empty(t, res.Unresolved)
}

func TestResolve_FirstChildWithSegmentsWins(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://h/master.m3u8":    "#EXT-X-STREAM-INF:A\nbroken.m3u8\n#EXT-X-STREAM-INF:B\nmid.m3u8\n#EXT-X-STREAM-INF:C\nlast.m3u8\n",
		"https://h/mid.m3u8":       "#EXT-X-STREAM-INF:X\ndeep/leaf.m3u8\n",
		"https://h/deep/leaf.m3u8": "#EXTINF:1,\ns1.ts\n",
		"https://h/last.m3u8":      "#EXTINF:1,\nother.ts\n",
	}}
	res, err := NewResolver(f, 5, time.Second, nil).Resolve(context.Background(), "https://h/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://h/deep/s1.ts"}, res.Segments)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "https://h/broken.m3u8", res.Unresolved[0].URL)
	assert.NotContains(t, f.calls, "https://h/last.m3u8")
}

func TestResolve_CycleAndDepth(t *testing.T) {
	f := &mapFetcher{pages: map[string]string{
		"https://h/a.m3u8": "#EXT-X-STREAM-INF:1\nb.m3u8\n",
		"https://h/b.m3u8": "#EXT-X-STREAM-INF:1\na.m3u8\n",
	}}
	res, err := NewResolver(f, 5, time.Second, nil).Resolve(context.Background(), "https://h/a.m3u8")
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "cycle", res.Unresolved[0].Reason)

	chain := map[string]string{}
	for i := 0; i < 10; i++ {
		chain[fmt.Sprintf("https://h/%d.m3u8", i)] = fmt.Sprintf("#EXT-X-STREAM-INF:1\n%d.m3u8\n", i+1)
	}
	chain["https://h/10.m3u8"] = "#EXTINF:1,\nend.ts\n"
	res, err = NewResolver(&mapFetcher{pages: chain}, 3, time.Second, nil).Resolve(context.Background(), "https://h/0.m3u8")
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "max depth exceeded", res.Unresolved[0].Reason)
}

func TestResolve_RootFailure(t *testing.T) {
	_, err := NewResolver(&mapFetcher{}, 5, time.Second, nil).Resolve(context.Background(), "https://h/missing.m3u8")
	require.Error(t, err)
	var te *models.TransportError
	assert.True(t, errors.As(err, &te))
}

func newLocator() *Locator {
	cfg := models.DefaultConfig()
	return NewLocator(decoder.NewDecoder(cfg.ObfuscationVar, cfg.TitleEncodings, nil), cfg.PlayerSelector, nil)
}

func TestLocateManifests(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		wantURLs  []string
		wantScope string
	}{
		{
			name: "json url in player",
			html: `<div id="player" class="dplayer"><script>var cfg = {"video":{"url":"https:\/\/v.example.com\/a\/index.m3u8"}};</script></div>
<script>var other = {"url":"https://elsewhere.example.com/x.m3u8"};</script>`,
			wantURLs:  []string{"https://v.example.com/a/index.m3u8"},
			wantScope: "player",
		},
		{
			name: "bare urls and mp4 source in player",
			html: `<div id="player" class="dplayer" data-src="https://v.example.com/b/index.m3u8">
<video src="/media/clip.mp4"></video></div>`,
			wantURLs:  []string{"https://v.example.com/b/index.m3u8", "https://www.example.com/media/clip.mp4"},
			wantScope: "player",
		},
		{
			name:      "json url outside player",
			html:      `<div id="other"></div><script>var c = {"url":"/hls/c/index.m3u8"};</script>`,
			wantURLs:  []string{"https://www.example.com/hls/c/index.m3u8"},
			wantScope: "page",
		},
		{
			name:      "bare url anywhere",
			html:      `<p>https:\/\/v.example.com\/d\/index.m3u8?t=1 and again https://v.example.com/d/index.m3u8?t=1</p>`,
			wantURLs:  []string{"https://v.example.com/d/index.m3u8?t=1"},
			wantScope: "page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			located, err := newLocator().LocateManifests("https://www.example.com/vod/1/", wrapPayload("_h", tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.wantURLs, located.URLs)
			assert.Equal(t, tt.wantScope, located.Scope)
		})
	}
}

func TestLocateManifests_TitleAndNotFound(t *testing.T) {
	raw := wrapPayload("_h", `<title>Clip 7</title><div id="player" class="dplayer"></div>`)
	located, err := newLocator().LocateManifests("https://www.example.com/vod/7/", raw)
	assert.True(t, errors.Is(err, models.ErrNoManifest))
	assert.Empty(t, located.URLs)
	assert.Equal(t, "Clip 7", located.Title)
}

// wrapPayload embeds html in a page the way the target site does.
func wrapPayload(varName, html string) []byte {
	return []byte(`<html><head><script>var ` + varName + `="` + decoder.Encode(html) + `";</script></head><body></body></html>`)
}

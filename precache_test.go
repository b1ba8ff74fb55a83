package swcache_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vearutop/swcache"
)

func assets() fstest.MapFS {
	return fstest.MapFS{
		"index.html":              {Data: []byte("<h1>Tasks</h1>")},
		"offline.html":            {Data: []byte("<h1>Offline</h1>")},
		"about/index.html":        {Data: []byte("<h1>About</h1>")},
		"assets/app.1a2b3c4d.js":  {Data: []byte("console.log(1)")},
		"assets/style.css":        {Data: []byte("body{}")},
		"assets/huge.png":         {Data: []byte(strings.Repeat("x", 100))},
		"README.md":               {Data: []byte("# docs")},
		"assets/fonts/inter.woff": {Data: []byte("font")},
	}
}

func TestBuildManifest(t *testing.T) {
	entries, err := swcache.BuildManifest(assets(), swcache.ManifestConfig{MaximumFileSize: 50})
	require.NoError(t, err)

	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		urls = append(urls, e.URL)
	}

	assert.Equal(t, []string{
		"about/index.html",
		"assets/app.1a2b3c4d.js",
		"assets/fonts/inter.woff",
		"assets/style.css",
		"index.html",
		"offline.html",
	}, urls)

	// Hashed file name does not need revision.
	assert.Empty(t, entries[1].Revision)
	assert.NotEmpty(t, entries[3].Revision)
	assert.Equal(t, int64(6), entries[3].Size)
}

func TestBuildManifest_transforms(t *testing.T) {
	entries, err := swcache.BuildManifest(assets(), swcache.ManifestConfig{
		Patterns:      []string{"**/*.html", "*.html"},
		DontCacheBust: regexp.MustCompile(`^never$`),
		Transforms:    []func([]swcache.ManifestEntry) []swcache.ManifestEntry{swcache.StripHTMLExtension},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "about/index", entries[0].URL)
	assert.Equal(t, "about/index.html", entries[0].File)
	assert.Equal(t, "index", entries[1].URL)
	assert.Equal(t, "offline", entries[2].URL)

	_, err = swcache.BuildManifest(assets(), swcache.ManifestConfig{Patterns: []string{"[a"}})
	assert.Error(t, err)
}

func TestPrecacher_Install(t *testing.T) {
	ctx := context.Background()
	fsys := assets()
	s := swcache.NewMemoryStorage()

	manifest, err := swcache.BuildManifest(fsys, swcache.ManifestConfig{
		Transforms: []func([]swcache.ManifestEntry) []swcache.ManifestEntry{swcache.StripHTMLExtension},
	})
	require.NoError(t, err)

	p := &swcache.Precacher{Storage: s, FS: fsys, Manifest: manifest}

	n, err := p.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// Unchanged revisions are skipped, hashed names are always rewritten.
	n, err = p.Install(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp, err := p.Lookup(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Tasks</h1>", string(resp.Body))
	assert.Equal(t, swcache.SourcePrecache, resp.Source)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, err = p.Lookup(ctx, "/offline.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Offline</h1>", string(resp.Body))

	resp, err = p.Lookup(ctx, "/about/")
	require.NoError(t, err)
	assert.Equal(t, "<h1>About</h1>", string(resp.Body))

	resp, err = p.Lookup(ctx, "/assets/style.css")
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(resp.Body))
	assert.NotEmpty(t, resp.Header.Get(swcache.RevisionHeader))

	_, err = p.Lookup(ctx, "/missing.js")
	assert.True(t, errors.Is(err, swcache.ErrCacheItemNotFound))

	// Asset removed from manifest is cleaned up.
	p.Manifest = manifest[:1]

	_, err = p.Install(ctx)
	require.NoError(t, err)

	_, err = p.Lookup(ctx, "/assets/style.css")
	assert.True(t, errors.Is(err, swcache.ErrCacheItemNotFound))

	store, err := s.Open(ctx, swcache.PrecacheCacheName, swcache.Expiration{})
	require.NoError(t, err)

	l, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l)
}

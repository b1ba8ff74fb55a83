package swcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bool64/ctxd"
	"github.com/cespare/xxhash/v2"
)

// PrecacheCacheName is a name of cache with precached assets.
const PrecacheCacheName = "swcache-precache"

// RevisionHeader keeps manifest revision of precached asset.
const RevisionHeader = "X-Swcache-Revision"

// ManifestEntry is a precached asset.
type ManifestEntry struct {
	// URL is a path of asset, relative to site root.
	URL string `json:"url"`

	// Revision is a content hash, empty if URL already contains a hash.
	Revision string `json:"revision,omitempty"`

	// File is a path of asset in file system.
	File string `json:"file"`

	Size int64 `json:"size"`
}

// ManifestConfig controls BuildManifest.
type ManifestConfig struct {
	// Patterns are glob patterns of files to precache, ** and {a,b} are supported.
	Patterns []string

	// MaximumFileSize skips larger files, default 5MB.
	MaximumFileSize int64

	// DontCacheBust matches URLs that are versioned by name, default \.\w{8}\.
	DontCacheBust *regexp.Regexp

	// Transforms are applied to manifest in order.
	Transforms []func(entries []ManifestEntry) []ManifestEntry
}

// DefaultPrecachePatterns is a list of static asset patterns.
var DefaultPrecachePatterns = []string{
	"**/*.{html,js,css,png,jpg,jpeg,svg,gif,webp,woff,woff2,ttf,eot,ico}",
}

var defaultDontCacheBust = regexp.MustCompile(`\.\w{8}\.`)

// BuildManifest scans file system for assets.
//
// Entries are sorted by URL.
func BuildManifest(fsys fs.FS, cfg ManifestConfig) ([]ManifestEntry, error) {
	if cfg.MaximumFileSize == 0 {
		cfg.MaximumFileSize = 5 * 1024 * 1024
	}

	if cfg.DontCacheBust == nil {
		cfg.DontCacheBust = defaultDontCacheBust
	}

	if len(cfg.Patterns) == 0 {
		cfg.Patterns = DefaultPrecachePatterns
	}

	seen := make(map[string]bool)

	var entries []ManifestEntry

	for _, pattern := range cfg.Patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}

		for _, name := range matches {
			if seen[name] {
				continue
			}

			seen[name] = true

			content, err := fs.ReadFile(fsys, name)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}

			if int64(len(content)) > cfg.MaximumFileSize {
				continue
			}

			e := ManifestEntry{
				URL:  name,
				File: name,
				Size: int64(len(content)),
			}

			if !cfg.DontCacheBust.MatchString(name) {
				e.Revision = strconv.FormatUint(xxhash.Sum64(content), 16)
			}

			entries = append(entries, e)
		}
	}

	for _, t := range cfg.Transforms {
		entries = t(entries)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URL < entries[j].URL
	})

	return entries, nil
}

// StripHTMLExtension is a manifest transform that removes .html suffix from URLs.
func StripHTMLExtension(entries []ManifestEntry) []ManifestEntry {
	for i, e := range entries {
		entries[i].URL = strings.TrimSuffix(e.URL, ".html")
	}

	return entries
}

// Precacher installs assets from manifest into a cache and serves them.
type Precacher struct {
	// Storage provides precache cache.
	Storage Storage

	// FS contains asset files.
	FS fs.FS

	// Manifest lists assets.
	Manifest []ManifestEntry

	// Logger collects messages with context.
	Logger ctxd.Logger

	// TimeNow is a clock, time.Now by default.
	TimeNow func() time.Time
}

// Install stores assets with changed revisions and removes assets absent in manifest.
//
// Number of written assets is returned.
func (p *Precacher) Install(ctx context.Context) (int, error) {
	store, err := p.Storage.Open(ctx, PrecacheCacheName, Expiration{})
	if err != nil {
		return 0, ctxd.WrapError(ctx, err, "failed to open precache")
	}

	now := time.Now
	if p.TimeNow != nil {
		now = p.TimeNow
	}

	written := 0

	for _, e := range p.Manifest {
		key := precacheKey(e.URL)

		if cached, err := store.Read(ctx, key); err == nil && e.Revision != "" &&
			cached.Header.Get(RevisionHeader) == e.Revision {
			continue
		}

		content, err := fs.ReadFile(p.FS, e.File)
		if err != nil {
			return written, ctxd.WrapError(ctx, err, "failed to read precache asset", "file", e.File)
		}

		h := make(http.Header)
		if ct := mime.TypeByExtension(path.Ext(e.File)); ct != "" {
			h.Set("Content-Type", ct)
		}

		if e.Revision != "" {
			h.Set(RevisionHeader, e.Revision)
		}

		resp := &Response{
			URL:        key,
			StatusCode: http.StatusOK,
			Header:     h,
			Body:       content,
			StoredAt:   now(),
		}

		if err := store.Write(ctx, key, resp); err != nil {
			return written, ctxd.WrapError(ctx, err, "failed to store precache asset", "url", key)
		}

		written++
	}

	if err := p.removeOutdated(ctx, store); err != nil {
		return written, err
	}

	if p.Logger != nil {
		p.Logger.Info(ctx, "precache installed", "written", written, "total", len(p.Manifest))
	}

	return written, nil
}

func (p *Precacher) removeOutdated(ctx context.Context, store Store) error {
	w, ok := store.(Walker)
	if !ok {
		return nil
	}

	keep := make(map[string]bool, len(p.Manifest))
	for _, e := range p.Manifest {
		keep[precacheKey(e.URL)] = true
	}

	var outdated []string

	if _, err := w.Walk(func(key string, _ *Response) error {
		if !keep[key] {
			outdated = append(outdated, key)
		}

		return nil
	}); err != nil {
		return ctxd.WrapError(ctx, err, "failed to walk precache")
	}

	for _, key := range outdated {
		if err := store.Delete(ctx, key); err != nil {
			return ctxd.WrapError(ctx, err, "failed to delete outdated asset", "url", key)
		}
	}

	return nil
}

// Lookup finds precached asset by URL path.
//
// Path with .html suffix, without it, and directory index are tried.
func (p *Precacher) Lookup(ctx context.Context, urlPath string) (*Response, error) {
	store, err := p.Storage.Open(ctx, PrecacheCacheName, Expiration{})
	if err != nil {
		return nil, err
	}

	key := precacheKey(urlPath)
	candidates := []string{key}

	switch {
	case strings.HasSuffix(key, "/"):
		candidates = append(candidates, key+"index.html", key+"index")
	case strings.HasSuffix(key, ".html"):
		candidates = append(candidates, strings.TrimSuffix(key, ".html"))
	default:
		candidates = append(candidates, key+".html")
	}

	for _, k := range candidates {
		resp, err := store.Read(ctx, k)
		if err == nil {
			resp.Source = SourcePrecache

			return resp, nil
		}

		if !errors.Is(err, ErrCacheItemNotFound) {
			return nil, err
		}
	}

	return nil, ErrCacheItemNotFound
}

func precacheKey(u string) string {
	return "/" + strings.TrimPrefix(u, "/")
}

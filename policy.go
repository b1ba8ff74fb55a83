package swcache

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Strategy defines order of cache and network for serving a request.
type Strategy int

// Strategies.
const (
	NetworkFirst Strategy = iota + 1
	CacheFirst
	StaleWhileRevalidate
)

var strategyNames = map[Strategy]string{
	NetworkFirst:         "NetworkFirst",
	CacheFirst:           "CacheFirst",
	StaleWhileRevalidate: "StaleWhileRevalidate",
}

// String returns strategy name.
func (s Strategy) String() string {
	if n, ok := strategyNames[s]; ok {
		return n
	}

	return fmt.Sprintf("Strategy(%d)", int(s))
}

// MarshalText encodes strategy name.
func (s Strategy) MarshalText() ([]byte, error) {
	if _, ok := strategyNames[s]; !ok {
		return nil, fmt.Errorf("unknown strategy %d", int(s))
	}

	return []byte(s.String()), nil
}

// UnmarshalText decodes strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	for k, n := range strategyNames {
		if n == string(text) {
			*s = k

			return nil
		}
	}

	return fmt.Errorf("unknown strategy %q", string(text))
}

// Expiration bounds a cache, zero value means unbounded on that axis.
type Expiration struct {
	// MaxEntries limits count of entries, oldest inserted entries are evicted first.
	MaxEntries int

	// MaxAge limits age of entries, older entries are treated as missing and evicted on lookup.
	MaxAge time.Duration
}

// BackgroundSync enables capture of failed mutating requests.
type BackgroundSync struct {
	// QueueName identifies sync queue.
	QueueName string

	// MaxRetention is a time to keep task for replay, default 24h.
	MaxRetention time.Duration
}

// BroadcastUpdate enables notifications about changed responses.
type BroadcastUpdate struct {
	// HeadersToCheck are compared between cached and fresh responses,
	// default Content-Length, ETag, Last-Modified.
	HeadersToCheck []string
}

// DefaultHeadersToCheck is a default value of BroadcastUpdate.HeadersToCheck.
var DefaultHeadersToCheck = []string{"Content-Length", "ETag", "Last-Modified"}

// Policy tells how requests matching URL pattern are served.
type Policy struct {
	// Name is optional, CacheName is used if empty.
	Name string

	// URLPattern is a regular expression matched against full request URL.
	URLPattern string

	Strategy  Strategy
	CacheName string

	// NetworkTimeout bounds network wait, zero means no bound.
	NetworkTimeout time.Duration

	Expiration Expiration

	// BackgroundSync is optional.
	BackgroundSync *BackgroundSync

	// CacheableStatuses lists response statuses to store, default 200.
	CacheableStatuses []int

	// BroadcastUpdate is optional.
	BroadcastUpdate *BroadcastUpdate

	pattern *regexp.Regexp
}

// Cacheable checks if response status can be stored.
func (p Policy) Cacheable(status int) bool {
	if len(p.CacheableStatuses) == 0 {
		return status == http.StatusOK
	}

	for _, s := range p.CacheableStatuses {
		if s == status {
			return true
		}
	}

	return false
}

// String returns policy name.
func (p Policy) String() string {
	if p.Name != "" {
		return p.Name
	}

	return p.CacheName
}

func (p *Policy) compile() error {
	if p.CacheName == "" {
		return fmt.Errorf("policy %q: cache name is required", p.URLPattern)
	}

	if _, ok := strategyNames[p.Strategy]; !ok {
		return fmt.Errorf("policy %s: unknown strategy %d", p.String(), int(p.Strategy))
	}

	if p.NetworkTimeout < 0 || p.Expiration.MaxEntries < 0 || p.Expiration.MaxAge < 0 {
		return fmt.Errorf("policy %s: negative bounds", p.String())
	}

	if p.BackgroundSync != nil && p.BackgroundSync.QueueName == "" {
		return fmt.Errorf("policy %s: background sync queue name is required", p.String())
	}

	re, err := regexp.Compile(p.URLPattern)
	if err != nil {
		return fmt.Errorf("policy %s: malformed url pattern: %w", p.String(), err)
	}

	p.pattern = re

	return nil
}

type policyJSON struct {
	Name                  string    `json:"name,omitempty"`
	URLPattern            string    `json:"urlPattern"`
	Handler               Strategy  `json:"handler"`
	CacheName             string    `json:"cacheName"`
	NetworkTimeoutSeconds int       `json:"networkTimeoutSeconds,omitempty"`
	CacheableStatuses     []int     `json:"cacheableStatuses,omitempty"`
	HeadersToCheck        *[]string `json:"broadcastHeadersToCheck,omitempty"`

	Expiration *struct {
		MaxEntries    int `json:"maxEntries,omitempty"`
		MaxAgeSeconds int `json:"maxAgeSeconds,omitempty"`
	} `json:"expiration,omitempty"`

	BackgroundSync *struct {
		Name                string `json:"name"`
		MaxRetentionMinutes int    `json:"maxRetentionMinutes,omitempty"`
	} `json:"backgroundSync,omitempty"`
}

// UnmarshalJSON decodes policy with durations in seconds and minutes.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var j policyJSON

	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	*p = Policy{
		Name:              j.Name,
		URLPattern:        j.URLPattern,
		Strategy:          j.Handler,
		CacheName:         j.CacheName,
		NetworkTimeout:    time.Duration(j.NetworkTimeoutSeconds) * time.Second,
		CacheableStatuses: j.CacheableStatuses,
	}

	if j.Expiration != nil {
		p.Expiration.MaxEntries = j.Expiration.MaxEntries
		p.Expiration.MaxAge = time.Duration(j.Expiration.MaxAgeSeconds) * time.Second
	}

	if j.BackgroundSync != nil {
		p.BackgroundSync = &BackgroundSync{
			QueueName:    j.BackgroundSync.Name,
			MaxRetention: time.Duration(j.BackgroundSync.MaxRetentionMinutes) * time.Minute,
		}
	}

	if j.HeadersToCheck != nil {
		p.BroadcastUpdate = &BroadcastUpdate{HeadersToCheck: *j.HeadersToCheck}
	}

	return nil
}

// LoadPolicies decodes JSON array of policies and validates them in declaration order.
func LoadPolicies(r io.Reader) ([]Policy, error) {
	var policies []Policy

	if err := json.NewDecoder(r).Decode(&policies); err != nil {
		return nil, fmt.Errorf("decoding policies: %w", err)
	}

	if _, err := NewRouter(policies...); err != nil {
		return nil, err
	}

	return policies, nil
}

// DefaultPolicies returns runtime caching table of the household hub application.
func DefaultPolicies() []Policy {
	const (
		day  = 24 * time.Hour
		year = 365 * day
	)

	return []Policy{
		{
			Name:              "api",
			URLPattern:        `^https://api\.ordohub\.com/api/.*`,
			Strategy:          NetworkFirst,
			CacheName:         "ordohub-api-cache",
			NetworkTimeout:    10 * time.Second,
			Expiration:        Expiration{MaxEntries: 50, MaxAge: 5 * time.Minute},
			CacheableStatuses: []int{0, http.StatusOK},
			BackgroundSync:    &BackgroundSync{QueueName: "ordohub-api-sync", MaxRetention: day},
		},
		{
			Name:       "images",
			URLPattern: `\.(?:png|jpg|jpeg|svg|gif|webp)$`,
			Strategy:   CacheFirst,
			CacheName:  "ordohub-images-cache",
			Expiration: Expiration{MaxEntries: 100, MaxAge: 30 * day},
		},
		{
			Name:       "fonts",
			URLPattern: `\.(?:woff|woff2|ttf|eot)$`,
			Strategy:   CacheFirst,
			CacheName:  "ordohub-fonts-cache",
			Expiration: Expiration{MaxEntries: 20, MaxAge: year},
		},
		{
			Name:       "static",
			URLPattern: `\.(?:js|css)$`,
			Strategy:   StaleWhileRevalidate,
			CacheName:  "ordohub-static-cache",
		},
		{
			Name:           "pages",
			URLPattern:     `\.(?:html)$`,
			Strategy:       NetworkFirst,
			CacheName:      "ordohub-pages-cache",
			NetworkTimeout: 3 * time.Second,
		},
		{
			Name:           "users",
			URLPattern:     `^https://api\.ordohub\.com/users/.*`,
			Strategy:       NetworkFirst,
			CacheName:      "ordohub-user-cache",
			NetworkTimeout: 5 * time.Second,
			Expiration:     Expiration{MaxEntries: 10, MaxAge: 15 * time.Minute},
		},
		{
			Name:            "tasks",
			URLPattern:      `^https://api\.ordohub\.com/tasks.*`,
			Strategy:        NetworkFirst,
			CacheName:       "ordohub-tasks-cache",
			NetworkTimeout:  8 * time.Second,
			BackgroundSync:  &BackgroundSync{QueueName: "ordohub-tasks-sync", MaxRetention: 2 * day},
			BroadcastUpdate: &BroadcastUpdate{HeadersToCheck: DefaultHeadersToCheck},
		},
		{
			Name:           "shopping",
			URLPattern:     `^https://api\.ordohub\.com/shopping.*`,
			Strategy:       NetworkFirst,
			CacheName:      "ordohub-shopping-cache",
			NetworkTimeout: 8 * time.Second,
			BackgroundSync: &BackgroundSync{QueueName: "ordohub-shopping-sync"},
		},
		{
			Name:       "cdn",
			URLPattern: `^https://cdn\.ordohub\.com/.*`,
			Strategy:   CacheFirst,
			CacheName:  "ordohub-cdn-cache",
			Expiration: Expiration{MaxEntries: 200, MaxAge: 7 * day},
		},
		{
			Name:       "google-fonts-stylesheets",
			URLPattern: `^https://fonts\.googleapis\.com/.*`,
			Strategy:   StaleWhileRevalidate,
			CacheName:  "google-fonts-stylesheets",
		},
		{
			Name:       "google-fonts-webfonts",
			URLPattern: `^https://fonts\.gstatic\.com/.*`,
			Strategy:   CacheFirst,
			CacheName:  "google-fonts-webfonts",
			Expiration: Expiration{MaxEntries: 30, MaxAge: year},
		},
	}
}

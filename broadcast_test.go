package swcache_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vearutop/swcache"
)

func TestChangedHeaders(t *testing.T) {
	headers := swcache.DefaultHeadersToCheck

	a := http.Header{"Etag": []string{"1"}, "Content-Length": []string{"10"}}
	b := http.Header{"Etag": []string{"2"}, "Content-Length": []string{"10"}}

	assert.Equal(t, []string{"ETag"}, swcache.ChangedHeaders(a, b, headers))
	assert.Empty(t, swcache.ChangedHeaders(a, a, headers))

	// No checked header in both responses, can not tell.
	c := http.Header{"Last-Modified": []string{"yesterday"}}
	assert.Empty(t, swcache.ChangedHeaders(a, c, headers))
	assert.Empty(t, swcache.ChangedHeaders(http.Header{}, http.Header{}, headers))

	// Header removed from one response while another one is comparable.
	d := http.Header{"Content-Length": []string{"10"}}
	assert.Equal(t, []string{"ETag"}, swcache.ChangedHeaders(a, d, headers))
}

func TestBroadcaster_Notify(t *testing.T) {
	ctx := context.Background()
	b := &swcache.Broadcaster{}
	p := swcache.Policy{CacheName: "tasks", BroadcastUpdate: &swcache.BroadcastUpdate{HeadersToCheck: []string{"X-Version"}}}

	old := &swcache.Response{Header: http.Header{"X-Version": []string{"1"}}}
	fresh := &swcache.Response{Header: http.Header{"X-Version": []string{"2"}}}

	var got []swcache.Update

	unsubscribe := b.Subscribe(func(ctx context.Context, u swcache.Update) {
		got = append(got, u)
	})

	assert.True(t, b.Notify(ctx, p, "k", old, fresh))
	assert.False(t, b.Notify(ctx, p, "k", fresh, fresh))
	assert.False(t, b.Notify(ctx, p, "k", nil, fresh))
	assert.False(t, b.Notify(ctx, swcache.Policy{CacheName: "x"}, "k", old, fresh))

	unsubscribe()

	assert.True(t, b.Notify(ctx, p, "k", old, fresh))
	assert.Equal(t, []swcache.Update{{CacheName: "tasks", URL: "k", Changed: []string{"X-Version"}}}, got)

	var nilBroadcaster *swcache.Broadcaster

	assert.False(t, nilBroadcaster.Notify(ctx, p, "k", old, fresh))
}

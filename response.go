package swcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response sources.
const (
	SourceNetwork  = "network"
	SourceCache    = "cache"
	SourcePrecache = "precache"
)

// Response is a stored HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time

	// Source tells where response was served from, it is not persisted.
	Source string
}

// Clone makes a copy with own header map, body is shared as it is never mutated.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}

	c := *r
	c.Header = r.Header.Clone()

	return &c
}

// Size estimates memory footprint in bytes.
func (r *Response) Size() int64 {
	size := int64(len(r.Body) + len(r.URL))

	for k, vv := range r.Header {
		size += int64(len(k))

		for _, v := range vv {
			size += int64(len(v))
		}
	}

	return size
}

// HTTPResponse converts stored response to *http.Response for req.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}

	h.Set("Content-Length", strconv.Itoa(len(r.Body)))

	body := r.Body
	if req != nil && req.Method == http.MethodHead {
		body = nil
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// ReadResponse consumes and closes body of resp.
//
// Body longer than maxBody bytes (if positive) results in error.
func ReadResponse(resp *http.Response, maxBody int64) (*Response, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	var (
		body []byte
		err  error
	)

	if maxBody > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
		if err == nil && int64(len(body)) > maxBody {
			return nil, fmt.Errorf("response body exceeds %d bytes", maxBody)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}

	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}

	return &Response{
		URL:        u,
		StatusCode: resp.StatusCode,
		Header:     stripHopByHop(resp.Header),
		Body:       body,
	}, nil
}

func stripHopByHop(header http.Header) http.Header {
	h := header.Clone()
	if h == nil {
		return make(http.Header)
	}

	for _, k := range []string{
		"Connection", "Proxy-Connection", "Keep-Alive",
		"Proxy-Authenticate", "Proxy-Authorization", "TE",
		"Trailer", "Transfer-Encoding", "Upgrade",
	} {
		h.Del(k)
	}

	for _, token := range strings.Split(header.Get("Connection"), ",") {
		if token = strings.TrimSpace(token); token != "" {
			h.Del(token)
		}
	}

	return h
}

package swcache

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Fetcher performs network requests.
type Fetcher interface {
	// Fetch returns network response, any HTTP status is a success.
	//
	// Failure to get a response is reported as *NetworkError.
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// FetcherFunc implements Fetcher.
type FetcherFunc func(ctx context.Context, req *http.Request) (*Response, error)

// Fetch calls function.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches with http.RoundTripper.
type HTTPFetcher struct {
	// Transport is http.DefaultTransport by default.
	Transport http.RoundTripper

	// MaxBodyBytes limits response body, zero means no limit.
	MaxBodyBytes int64
}

var _ Fetcher = HTTPFetcher{}

// Fetch performs round trip.
func (f HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	tr := f.Transport
	if tr == nil {
		tr = http.DefaultTransport
	}

	resp, err := tr.RoundTrip(req.Clone(ctx))
	if err != nil {
		return nil, networkError(req.URL.String(), err)
	}

	r, err := ReadResponse(resp, f.MaxBodyBytes)
	if err != nil {
		return nil, &ResponseError{URL: req.URL.String(), Err: err}
	}

	if r.URL == "" {
		r.URL = req.URL.String()
	}

	r.Source = SourceNetwork

	return r, nil
}

// networkError converts fetch failure to *NetworkError, *ResponseError is kept as is.
func networkError(url string, err error) error {
	var (
		ne *NetworkError
		re *ResponseError
	)

	if errors.As(err, &ne) || errors.As(err, &re) {
		return err
	}

	timeout := errors.Is(err, context.DeadlineExceeded)

	var te net.Error
	if errors.As(err, &te) && te.Timeout() {
		timeout = true
	}

	return &NetworkError{URL: url, Timeout: timeout, Err: err}
}

// ReportingFetcher notifies connectivity monitor about network results.
type ReportingFetcher struct {
	Fetcher      Fetcher
	Connectivity *Connectivity
}

// Fetch calls upstream fetcher and reports outcome.
func (f ReportingFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := f.Fetcher.Fetch(ctx, req)

	if f.Connectivity != nil && ctx.Err() == nil {
		f.Connectivity.Report(ctx, err)
	}

	return resp, err
}

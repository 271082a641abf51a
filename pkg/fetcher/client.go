package fetcher

import (
	"net/http"
)

const (
	// DefaultReferer is sent with every request unless the caller sets one.
	DefaultReferer = "https://pkuhelper.pku.edu.cn/hole/"

	// DefaultUserAgent is sent with every request unless the caller sets one.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.149 Safari/537.36"
)

// ClientBuilder returns a new HTTP client. It is called once per worker, so
// clients must not share mutable state they do not synchronize.
type ClientBuilder func() (*http.Client, error)

// DefaultClientBuilder builds a client with its own transport and the
// default Referer and User-Agent headers.
func DefaultClientBuilder() (*http.Client, error) {
	return HeaderClientBuilder(http.Header{
		"Referer":    {DefaultReferer},
		"User-Agent": {DefaultUserAgent},
	})()
}

// HeaderClientBuilder returns a builder whose clients add headers to
// requests that do not already carry them.
func HeaderClientBuilder(headers http.Header) ClientBuilder {
	headers = headers.Clone()
	return func() (*http.Client, error) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		return &http.Client{
			Transport: &headerTransport{base: transport, headers: headers},
		}, nil
	}
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range t.headers {
		if req.Header.Get(key) == "" {
			req.Header[key] = values
		}
	}
	return t.base.RoundTrip(req)
}

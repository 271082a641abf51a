// Package api holds the treehole backend endpoint: a base URL, fixed query
// parameters and the user token.
package api

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

const (
	// DefaultBaseURL is the current treehole API root.
	DefaultBaseURL = "https://treehole.pku.edu.cn/api/"

	// LegacyBaseURL is the PKU Helper hole API script.
	LegacyBaseURL = "https://pkuhelper.pku.edu.cn/services/pkuhole/api.php"
)

// ErrMalformedURL is returned when the base URL cannot be used.
var ErrMalformedURL = errors.New("malformed url")

// Config holds endpoint configuration.
type Config struct {
	// BaseURL must be absolute.
	BaseURL string

	// Params are fixed query parameters added to every request.
	Params map[string]string

	// UserToken identifies the caller to the backend.
	UserToken string

	// TokenInQuery adds UserToken as the user_token query parameter.
	TokenInQuery bool
}

// DefaultConfig targets the current API.
func DefaultConfig(userToken string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserToken: userToken,
	}
}

// LegacyConfig targets the legacy api.php endpoint, which expects its
// client version params and the token in the query string.
func LegacyConfig(userToken string) Config {
	return Config{
		BaseURL: LegacyBaseURL,
		Params: map[string]string{
			"PKUHelperAPI": "3.0",
			"jsapiver":     "201027113050-459074",
		},
		UserToken:    userToken,
		TokenInQuery: true,
	}
}

// API is an immutable endpoint.
type API struct {
	base      *url.URL
	userToken string
}

// New validates cfg and builds the endpoint.
func New(cfg Config) (*API, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrMalformedURL)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrMalformedURL, cfg.BaseURL)
	}

	query := base.Query()
	keys := make([]string, 0, len(cfg.Params))
	for key := range cfg.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		query.Add(key, cfg.Params[key])
	}
	if cfg.TokenInQuery && cfg.UserToken != "" {
		query.Set("user_token", cfg.UserToken)
	}
	base.RawQuery = query.Encode()

	return &API{
		base:      base,
		userToken: cfg.UserToken,
	}, nil
}

// Base returns a copy of the base URL; callers may modify it.
func (a *API) Base() *url.URL {
	u := *a.base
	if a.base.User != nil {
		user := *a.base.User
		u.User = &user
	}
	return &u
}

// UserToken returns the configured token.
func (a *API) UserToken() string {
	return a.userToken
}

// String returns the base URL with the token redacted.
func (a *API) String() string {
	u := a.Base()
	q := u.Query()
	if q.Has("user_token") {
		q.Set("user_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

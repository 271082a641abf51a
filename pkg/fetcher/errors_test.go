package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sternrassler/woodpecker/pkg/swarm"
)

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FetchError
		want string
	}{
		{
			name: "with page and url",
			err:  &FetchError{Kind: KindParse, Page: 3, URL: "http://x/?page=3", Err: errors.New("bad json")},
			want: "fetch parse error (page 3, http://x/?page=3): bad json",
		},
		{
			name: "page only",
			err:  &FetchError{Kind: KindSwarmPolicy, Page: 101, Err: errors.New("too deep")},
			want: "fetch swarm_policy error (page 101): too deep",
		},
		{
			name: "execution level",
			err:  &FetchError{Kind: KindClientBuild, Err: errors.New("no transport")},
			want: "fetch client_build error: no transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchError_Fatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindClientBuild, true},
		{KindMalformedURL, false},
		{KindSwarmUnsupported, true},
		{KindSwarmPolicy, true},
		{KindTransport, false},
		{KindParse, false},
		{KindMerge, true},
		{KindPool, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := &FetchError{Kind: tt.kind, Err: errors.New("x")}
			if got := err.Fatal(); got != tt.fatal {
				t.Errorf("Fatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	err := &FetchError{Kind: KindTransport, Err: fmt.Errorf("%w: 503", ErrStatus)}
	if !errors.Is(err, ErrStatus) {
		t.Error("expected errors.Is to find ErrStatus")
	}
}

func TestDispatchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unsupported", swarm.ErrUnsupported, KindSwarmUnsupported},
		{"policy", fmt.Errorf("%w: page 4 > 3", swarm.ErrPolicyRejected), KindSwarmPolicy},
		{"other", errors.New("bad escape"), KindMalformedURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dispatchError(2, tt.err)
			if got.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", got.Kind, tt.want)
			}
			if got.Page != 2 {
				t.Errorf("Page = %d, want 2", got.Page)
			}
		})
	}
}

func TestHeaderClientBuilder(t *testing.T) {
	var gotUA, gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
	}))
	defer server.Close()

	build := HeaderClientBuilder(http.Header{
		"User-Agent": {"woodpecker-test/1.0"},
		"Referer":    {"https://example.test/"},
	})

	first, err := build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, _ := build()
	if first.Transport == second.Transport {
		t.Error("expected every client to get its own transport")
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("Referer", "https://override.test/")
	resp, err := first.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if gotUA != "woodpecker-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotReferer != "https://override.test/" {
		t.Errorf("Referer = %q, caller header should win", gotReferer)
	}
}

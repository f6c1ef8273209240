package embed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeFetcher struct {
	body []byte
	err  error
	got  string
}

func (f *fakeFetcher) Fetch(_ context.Context, u string) ([]byte, error) {
	f.got = u
	return f.body, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// =============================================================================
// Normalize
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"example.com", "https://example.com", nil},
		{"  http://example.com/a?b=1 ", "http://example.com/a?b=1", nil},
		{"https://docs.go.dev/x", "https://docs.go.dev/x", nil},
		{"", "", ErrMissingURL},
		{"   ", "", ErrMissingURL},
		{"https://", "", ErrInvalidURL},
		{"http//broken", "", ErrInvalidURL},
		{"https://www.youtube.com/watch?v=1", "", ErrYouTube},
		{"youtu.be/abc", "", ErrYouTube},
		{"m.youtube.com/x", "", ErrYouTube},
		{"notyoutube.com", "https://notyoutube.com", nil},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if !errors.Is(err, tt.err) {
			t.Errorf("Normalize(%q) err = %v, want %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// ParseMeta and Describe
// =============================================================================

func TestParseMeta_ShouldPreferTitleThenOpenGraph(t *testing.T) {
	title, desc, err := ParseMeta([]byte(`<html><head><title>
  Go   Docs </title><meta name="description" content=" The Go site "></head></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if title != "Go Docs" || desc != "The Go site" {
		t.Errorf("title = %q, desc = %q", title, desc)
	}

	title, desc, _ = ParseMeta([]byte(`<head><meta property="og:title" content="OG"><meta property="og:description" content="D"></head>`))
	if title != "OG" || desc != "D" {
		t.Errorf("title = %q, desc = %q", title, desc)
	}
}

func TestDescribe_WhenFetchFails_ShouldUseDefaultTitle(t *testing.T) {
	d := NewDescriber(&fakeFetcher{err: errors.New("offline")}, WithLogger(quietLogger()))
	page := d.Describe(context.Background(), "https://example.com")
	if page.Title != DefaultTitle || page.URL != "https://example.com" {
		t.Errorf("page = %+v", page)
	}
}

func TestDescribe_WhenNoFetcher_ShouldUseDefaultTitle(t *testing.T) {
	if page := NewDescriber(nil).Describe(context.Background(), "https://x.dev"); page.Title != DefaultTitle {
		t.Errorf("page = %+v", page)
	}
	var d *Describer
	if page := d.Describe(context.Background(), "https://x.dev"); page.Title != DefaultTitle {
		t.Errorf("nil describer page = %+v", page)
	}
}

func TestDescribe_WhenPageHasTitle_ShouldUseIt(t *testing.T) {
	f := &fakeFetcher{body: []byte("<title>Hello</title>")}
	page := NewDescriber(f).Describe(context.Background(), "https://example.com")
	if page.Title != "Hello" || f.got != "https://example.com" {
		t.Errorf("page = %+v, fetched %q", page, f.got)
	}
}

func TestHTTPFetcher_ShouldReadBodyAndRejectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("<title>Served</title>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher()
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil || !strings.Contains(string(body), "Served") {
		t.Errorf("body = %q, err = %v", body, err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

package embed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"embedding":{"vectors":[0.1,0.2,0.3],"dimensions":3}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	emb, err := c.Embed(context.Background(), "gaming mouse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.Dimensions != 3 || len(emb.Vectors) != 3 {
		t.Fatalf("unexpected embedding: %+v", emb)
	}
}

func TestEmbed_DimensionsDefaultToLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"embedding":{"vectors":[1,2]}}`))
	}))
	defer srv.Close()

	emb, err := NewClient(srv.URL).Embed(context.Background(), "x y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.Dimensions != 2 {
		t.Fatalf("expected dimensions 2, got %d", emb.Dimensions)
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	c := NewClient("http://localhost:0")
	if _, err := c.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestEmbed_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Embed(context.Background(), "q")
	var bad *BadResponseError
	if !errors.As(err, &bad) {
		t.Fatalf("expected BadResponseError, got %v", err)
	}
	if bad.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", bad.Status)
	}
}

func TestEmbed_MalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":            `nope`,
		"missing embedding":   `{"vectors":[1]}`,
		"empty vector":        `{"embedding":{"vectors":[],"dimensions":0}}`,
		"dimension mismatch":  `{"embedding":{"vectors":[1,2],"dimensions":3}}`,
		"non-numeric element": `{"embedding":{"vectors":[1,"x"],"dimensions":2}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(payload))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Embed(context.Background(), "q")
			var bad *BadResponseError
			if !errors.As(err, &bad) {
				t.Fatalf("expected BadResponseError, got %v", err)
			}
		})
	}
}

func TestEmbed_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := NewClient(srv.URL).Embed(context.Background(), "q")
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
}

func TestEmbed_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	c := NewClient(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.Embed(context.Background(), "q")
	var unreachable *UnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected UnreachableError on timeout, got %v", err)
	}
}

package imagegen

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"deepresearch/backend/internal/config"
)

func TestGenerateReturnsImageURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer img-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		for _, field := range []string{`"width":1024`, `"height":768`, `"steps":30`, `"n":1`} {
			if !strings.Contains(string(body), field) {
				t.Errorf("request body missing %s: %s", field, body)
			}
		}
		_, _ = w.Write([]byte(`{"data":[{"url":"https://tmp.example/image.jpg"}]}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{
		TogetherAPIKey:  "img-key",
		TogetherBaseURL: server.URL,
		ImageModel:      "black-forest-labs/FLUX.1-dev",
	}, server.Client())

	url, err := client.Generate(context.Background(), "an abstract cover")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://tmp.example/image.jpg" {
		t.Fatalf("unexpected url: %q", url)
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	t.Parallel()

	client := NewClient(config.Config{TogetherBaseURL: "https://api.together.xyz/v1"}, nil)
	if _, err := client.Generate(context.Background(), "prompt"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestGenerateReturnsUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"out of credits"}}`))
	}))
	defer server.Close()

	client := NewClient(config.Config{
		TogetherAPIKey:  "img-key",
		TogetherBaseURL: server.URL,
	}, server.Client())

	_, err := client.Generate(context.Background(), "prompt")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjectStore) PutObject(_ context.Context, objectPath, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[objectPath] = data
	return nil
}

func (m *memoryObjectStore) PublicURL(objectPath string) string {
	return "https://cdn.example/" + objectPath
}

func TestCreateCoverStoresImagePermanently(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/generations":
			_, _ = w.Write([]byte(`{"data":[{"url":"` + server.URL + `/tmp/img.jpg"}]}`))
		case "/tmp/img.jpg":
			_, _ = w.Write([]byte("jpeg-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(config.Config{
		TogetherAPIKey:  "img-key",
		TogetherBaseURL: server.URL,
	}, server.Client())
	store := &memoryObjectStore{}

	url, err := NewGenerator(client, store).CreateCover(context.Background(), "run-1", "prompt")
	if err != nil {
		t.Fatalf("create cover: %v", err)
	}

	if !strings.HasPrefix(url, "https://cdn.example/research-covers/run-1-") || !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("unexpected cover url: %q", url)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one stored object, got %d", len(store.objects))
	}
	for path, data := range store.objects {
		if !strings.HasPrefix(path, "research-covers/run-1-") {
			t.Fatalf("unexpected object path: %q", path)
		}
		if string(data) != "jpeg-bytes" {
			t.Fatalf("unexpected object data: %q", data)
		}
	}
}

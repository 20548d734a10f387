package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeImages(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
		if err := os.WriteFile(paths[i], []byte("fakejpegbytes"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestDescribe(t *testing.T) {
	// WHAT: Images go out base64-embedded after the prompt; the first
	// choice's content comes back as the description.
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("request json: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"sunny two-bedroom"}}]}`)
	}))
	defer srv.Close()

	d, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	desc, err := d.Describe(context.Background(), writeImages(t, "a.jpg", "b.jpg"))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc != "sunny two-bedroom" {
		t.Errorf("description = %q", desc)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}

	if len(gotReq.Messages) != 1 {
		t.Fatalf("messages = %d", len(gotReq.Messages))
	}
	content := gotReq.Messages[0].Content
	if len(content) != 3 || content[0].Type != "text" {
		t.Fatalf("content parts = %d, want prompt + 2 images", len(content))
	}
	for _, part := range content[1:] {
		if part.Type != "image_url" || !strings.HasPrefix(part.ImageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("image part: %+v", part)
		}
	}
}

func TestDescribeCapsImages(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	d, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test", MaxImages: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	paths := writeImages(t, "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	if _, err := d.Describe(context.Background(), paths); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got := len(gotReq.Messages[0].Content); got != 3 {
		t.Errorf("content parts = %d, want prompt + 2 capped images", got)
	}
}

func TestDescribeSkipsUnreadableImages(t *testing.T) {
	d, err := New(Config{BaseURL: "http://unused.test", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Describe(context.Background(), []string{"/nonexistent/a.jpg"})
	if err == nil || !strings.Contains(err.Error(), "no readable images") {
		t.Errorf("err = %v, want no-readable-images failure", err)
	}
}

func TestDescribeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	d, err := New(Config{BaseURL: srv.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = d.Describe(context.Background(), writeImages(t, "a.jpg"))
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("err = %v, want api error surfaced", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

package web

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- helpers ----------------------------------------------------------------

func uiDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("index.html", "<html>spa</html>")
	write("assets/app.js", "console.log(1)")
	write("favicon.ico", "ico")
	return dir
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

// --- tests ------------------------------------------------------------------

func TestSPA_RoutesServeIndex(t *testing.T) {
	h, err := New(uiDir(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, route := range Routes {
		rr := get(h, route)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status got %d, want 200", route, rr.Code)
			continue
		}
		if !strings.Contains(rr.Body.String(), "spa") {
			t.Errorf("%s: body got %q, want index.html", route, rr.Body.String())
		}
		if rr.Header().Get("Cache-Control") != "no-cache" {
			t.Errorf("%s: Cache-Control got %q", route, rr.Header().Get("Cache-Control"))
		}
	}
}

func TestSPA_StaticAssets(t *testing.T) {
	h, _ := New(uiDir(t))
	rr := get(h, "/assets/app.js")
	if rr.Code != http.StatusOK || rr.Body.String() != "console.log(1)" {
		t.Errorf("asset: got %d %q", rr.Code, rr.Body.String())
	}
}

func TestSPA_UnknownRedirectsHome(t *testing.T) {
	h, _ := New(uiDir(t))
	for _, p := range []string{"/nope", "/drivers/42", "/assets", "/../etc/passwd"} {
		rr := get(h, p)
		if rr.Code != http.StatusFound {
			t.Errorf("%s: status got %d, want 302", p, rr.Code)
			continue
		}
		if loc := rr.Header().Get("Location"); loc != "/" {
			t.Errorf("%s: location got %q, want /", p, loc)
		}
	}
}

func TestSPA_NoDirUsesBuiltin(t *testing.T) {
	h, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rr := get(h, "/login")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "--ui-dir") {
		t.Errorf("builtin: got %d %q", rr.Code, rr.Body.String())
	}
	if rr := get(h, "/assets/app.js"); rr.Code != http.StatusFound {
		t.Errorf("asset without dir: got %d, want 302", rr.Code)
	}
}

func TestSPA_MissingIndex(t *testing.T) {
	if _, err := New(t.TempDir()); err == nil {
		t.Fatal("expected error for dir without index.html")
	}
}

func TestSPA_MethodNotAllowed(t *testing.T) {
	h, _ := New("")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

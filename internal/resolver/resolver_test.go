package resolver_test

import (
	"os"
	"path/filepath"
	"testing"

	"torii/internal/resolver"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		path     string
		expected string
		ok       bool
	}{
		{"plain path", "/ws", "/ws/doc.py", "doc.py", true},
		{"nested path", "/ws", "/ws/src/pkg/a.go", "src/pkg/a.go", true},
		{"file uri", "/ws", "file:///ws/doc.py", "doc.py", true},
		{"file uri root", "file:///ws", "/ws/doc.py", "doc.py", true},
		{"uncleaned path", "/ws/", "/ws/src/../doc.py", "doc.py", true},
		{"outside root", "/ws", "/other/doc.py", "", false},
		{"sibling prefix", "/ws", "/wsx/doc.py", "", false},
		{"root itself", "/ws", "/ws", "", false},
		{"no root", "", "/ws/doc.py", "", false},
		{"remote root", "vscode-remote://host/ws", "/ws/doc.py", "", false},
		{"untitled surface", "/ws", "untitled:Untitled-1", "", false},
		{"relative path", "/ws", "doc.py", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolver.New(tt.root)
			got, err := r.Resolve(tt.path)
			if tt.ok {
				if err != nil {
					t.Fatalf("Resolve(%q) error = %v", tt.path, err)
				}
				if got != tt.expected {
					t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.expected)
				}
				return
			}
			if err != resolver.ErrNotInWorkspace {
				t.Errorf("Resolve(%q) error = %v, want ErrNotInWorkspace", tt.path, err)
			}
		})
	}
}

func TestLocateAndURI(t *testing.T) {
	r := resolver.New("/ws")

	abs, err := r.Locate("src/a.go")
	if err != nil {
		t.Fatalf("Locate error = %v", err)
	}
	if abs != "/ws/src/a.go" {
		t.Errorf("Locate = %q", abs)
	}

	uri, err := r.URI("src/a.go")
	if err != nil {
		t.Fatalf("URI error = %v", err)
	}
	if uri != "file:///ws/src/a.go" {
		t.Errorf("URI = %q", uri)
	}

	if _, err := resolver.New("").Locate("a.go"); err != resolver.ErrNotInWorkspace {
		t.Errorf("Locate without root error = %v", err)
	}
}

func TestRelativeRootIsTakenFromWorkingDirectory(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	r := resolver.New(".")
	if r.Root() != wd {
		t.Fatalf("Root = %q, want %q", r.Root(), wd)
	}
	got, err := r.Resolve(filepath.Join(wd, "src", "doc.py"))
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got != "src/doc.py" {
		t.Errorf("Resolve = %q", got)
	}
}

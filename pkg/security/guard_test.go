package security

import (
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	g := NewArchiveGuard(1024, 1024, 0)
	dest := "/tmp/bundle"

	tests := []struct {
		entry     string
		expected  string
		shouldErr bool
	}{
		{"ventoy-1.1.05/Ventoy2Disk.sh", filepath.Join(dest, "ventoy-1.1.05/Ventoy2Disk.sh"), false},
		{"./ventoy-1.1.05/", filepath.Join(dest, "ventoy-1.1.05"), false},
		{"a/../b", filepath.Join(dest, "b"), false},
		{"../etc/passwd", "", true},
		{"a/../../etc/passwd", "", true},
		{"/etc/passwd", "", true},
		{"..", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := g.Resolve(dest, tt.entry)
		if tt.shouldErr {
			if err == nil {
				t.Errorf("expected error for entry %q", tt.entry)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for entry %q: %v", tt.entry, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("Resolve(%q) = %q, expected %q", tt.entry, got, tt.expected)
		}
	}
}

func TestCheckSymlink(t *testing.T) {
	g := NewArchiveGuard(1024, 1024, 0)

	tests := []struct {
		entry     string
		target    string
		shouldErr bool
	}{
		{"ventoy/tool/x86_64/mkexfatfs", "mkexfatfs.static", false},
		{"ventoy/tool/link", "../boot/core.img", false},
		{"ventoy/link", "../../etc/shadow", true},
		{"link", "/bin/sh", true},
	}

	for _, tt := range tests {
		err := g.CheckSymlink(tt.entry, tt.target)
		if tt.shouldErr && err == nil {
			t.Errorf("expected error for %s -> %s", tt.entry, tt.target)
		}
		if !tt.shouldErr && err != nil {
			t.Errorf("unexpected error for %s -> %s: %v", tt.entry, tt.target, err)
		}
	}
}

func TestAdmit(t *testing.T) {
	g := NewArchiveGuard(100, 250, 0)

	if err := g.Admit("a", 150); err == nil {
		t.Error("expected error for entry exceeding per-entry limit")
	}
	if err := g.Admit("a", 100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := g.Admit("b", 100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := g.Admit("c", 100); err == nil {
		t.Error("expected error when total exceeds limit")
	}

	g.Reset()
	if g.Extracted() != 0 {
		t.Errorf("expected 0 after reset, got %d", g.Extracted())
	}
}

func TestCheckRatio(t *testing.T) {
	g := NewArchiveGuard(1<<20, 1<<20, 10)

	if err := g.Admit("a", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.CheckRatio(100); err != nil {
		t.Errorf("expected ratio 10 to pass, got %v", err)
	}
	if err := g.CheckRatio(50); err == nil {
		t.Error("expected error for ratio 20")
	}
	if err := g.CheckRatio(0); err == nil {
		t.Error("expected error for zero compressed size")
	}

	if err := NewArchiveGuard(1, 1, 0).CheckRatio(0); err != nil {
		t.Errorf("disabled ratio check should pass, got %v", err)
	}
}

package images

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	iso := writeFile(t, dir, "debian.iso", 4096)
	img := writeFile(t, dir, "disk.img", 1024)
	sub := filepath.Join(dir, "folder.iso")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		path      string
		strict    bool
		shouldErr bool
	}{
		{"iso file", iso, false, false},
		{"iso file strict", iso, true, false},
		{"other extension", img, false, false},
		{"other extension strict", img, true, true},
		{"missing", filepath.Join(dir, "nope.iso"), false, true},
		{"directory", sub, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validator{Strict: tt.strict}.Validate(tt.path)
			if tt.shouldErr {
				if !errors.IsKind(err, errors.KindSelection) {
					t.Errorf("expected InvalidSelection, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Path != tt.path || got.Name != filepath.Base(tt.path) {
				t.Errorf("unexpected image: %+v", got)
			}
			if got.Label != "" {
				t.Errorf("zero-filled file should have no volume label, got %q", got.Label)
			}
		})
	}
}

func TestValidate_Unreadable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root can read any file")
	}
	path := writeFile(t, t.TempDir(), "locked.iso", 10)
	if err := os.Chmod(path, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := (Validator{}).Validate(path); !errors.IsKind(err, errors.KindSelection) {
		t.Errorf("expected InvalidSelection for unreadable file, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.iso", 100)
	b := writeFile(t, dir, "b.iso", 200)
	other := filepath.Join(dir, "other")
	if err := os.Mkdir(other, 0755); err != nil {
		t.Fatal(err)
	}
	dup := writeFile(t, other, "A.iso", 5)

	sel, err := Validator{}.Select([]string{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sel) != 2 || sel.TotalSize() != 300 {
		t.Errorf("unexpected selection: %+v", sel)
	}
	if paths := sel.Paths(); paths[0] != a || paths[1] != b {
		t.Errorf("order not preserved: %v", paths)
	}

	frozen := sel.Clone()
	sel[0].Name = "changed"
	if frozen[0].Name != "a.iso" {
		t.Error("Clone should not share backing storage")
	}

	if _, err := (Validator{}).Select(nil); !errors.IsKind(err, errors.KindSelection) {
		t.Errorf("expected InvalidSelection for empty selection, got %v", err)
	}
	if _, err := (Validator{}).Select([]string{a, dup}); !errors.IsKind(err, errors.KindSelection) {
		t.Errorf("expected InvalidSelection for duplicate names, got %v", err)
	}
}

func TestImageString(t *testing.T) {
	img := Image{Name: "x.iso", Size: 2048}
	if got := img.String(); got != "x.iso (2.0 KiB)" {
		t.Errorf("String() = %q", got)
	}
	img.Label = "DEBIAN"
	if got := img.String(); got != "x.iso [DEBIAN] (2.0 KiB)" {
		t.Errorf("String() = %q", got)
	}
}

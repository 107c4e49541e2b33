package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestClassify_KeepsExistingKind(t *testing.T) {
	inner := New(KindMount, "mount failed")
	wrapped := fmt.Errorf("copy step: %w", inner)

	got := Classify(KindCopy, wrapped, "copy failed")
	if got.Kind != KindMount {
		t.Errorf("expected kind %s, got %s", KindMount, got.Kind)
	}
}

func TestClassify_PlainError(t *testing.T) {
	got := Classify(KindCopy, io.ErrUnexpectedEOF, "copy failed")
	if got.Kind != KindCopy {
		t.Errorf("expected kind %s, got %s", KindCopy, got.Kind)
	}
	if !Is(got, io.ErrUnexpectedEOF) {
		t.Error("classified error should unwrap to the original")
	}
	if !got.Recoverable {
		t.Error("classified errors default to recoverable")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		ok   bool
	}{
		{New(KindDetection, "x"), KindDetection, true},
		{Wrap(New(KindVerification, "x"), "outer"), KindVerification, true},
		{io.EOF, "", false},
		{nil, "", false},
	}

	for _, tt := range tests {
		kind, ok := KindOf(tt.err)
		if kind != tt.kind || ok != tt.ok {
			t.Errorf("KindOf(%v) = %s, %v; want %s, %v", tt.err, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestError_Message(t *testing.T) {
	e := Newf(KindInstallation, "installer exited with %d", 2)
	if e.Error() != "InstallationError: installer exited with 2" {
		t.Errorf("unexpected message: %s", e.Error())
	}
}

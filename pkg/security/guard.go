// Package security guards extraction of downloaded archives.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
)

// ArchiveGuard bounds what an extracted archive may write: every entry must
// land inside the destination and the archive may not expand past the
// configured sizes.
type ArchiveGuard struct {
	maxEntrySize int64
	maxTotalSize int64
	maxRatio     float64

	mu        sync.Mutex
	extracted int64
}

// NewArchiveGuard creates a guard. A zero maxRatio disables the ratio check.
func NewArchiveGuard(maxEntrySize, maxTotalSize int64, maxRatio float64) *ArchiveGuard {
	slog.Debug("archive_guard_init",
		"max_entry_size_mb", maxEntrySize/1024/1024,
		"max_total_size_mb", maxTotalSize/1024/1024,
		"max_ratio", maxRatio)

	return &ArchiveGuard{
		maxEntrySize: maxEntrySize,
		maxTotalSize: maxTotalSize,
		maxRatio:     maxRatio,
	}
}

// Resolve returns the path entry should be written to under destDir, or an
// error when the entry would escape it.
func (g *ArchiveGuard) Resolve(destDir, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("security: empty entry name")
	}
	if filepath.IsAbs(entry) || strings.HasPrefix(entry, "/") {
		slog.Error("archive_entry_rejected", "entry", entry, "reason", "absolute_path")
		return "", fmt.Errorf("security: absolute path not allowed: %s", entry)
	}

	clean := filepath.Clean(filepath.FromSlash(entry))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		slog.Error("archive_entry_rejected", "entry", entry, "reason", "path_traversal")
		return "", fmt.Errorf("security: path traversal detected: %s", entry)
	}
	return filepath.Join(destDir, clean), nil
}

// CheckSymlink rejects links whose target leaves the archive root. Unlike a
// container image there is no chroot here, so absolute targets are refused.
func (g *ArchiveGuard) CheckSymlink(entry, target string) error {
	if filepath.IsAbs(target) {
		slog.Error("archive_symlink_rejected", "entry", entry, "target", target, "reason", "absolute_target")
		return fmt.Errorf("security: absolute symlink target not allowed: %s -> %s", entry, target)
	}

	resolved := filepath.Clean(filepath.Join(filepath.Dir(filepath.FromSlash(entry)), filepath.FromSlash(target)))
	if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
		slog.Error("archive_symlink_rejected", "entry", entry, "target", target, "resolved", resolved)
		return fmt.Errorf("security: symlink %s -> %s escapes archive root", entry, target)
	}
	return nil
}

// Admit accounts for an entry of size bytes and fails once either limit is
// crossed.
func (g *ArchiveGuard) Admit(entry string, size int64) error {
	if size > g.maxEntrySize {
		slog.Error("archive_entry_too_large", "entry", entry, "size_mb", size/1024/1024, "max_mb", g.maxEntrySize/1024/1024)
		return fmt.Errorf("security: entry %s size %d exceeds max %d", entry, size, g.maxEntrySize)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.extracted += size
	if g.extracted > g.maxTotalSize {
		slog.Error("archive_total_exceeded", "total_mb", g.extracted/1024/1024, "max_mb", g.maxTotalSize/1024/1024)
		return fmt.Errorf("security: total extracted size %d exceeds max %d", g.extracted, g.maxTotalSize)
	}
	return nil
}

// CheckRatio compares the extracted total against the compressed size.
func (g *ArchiveGuard) CheckRatio(compressedSize int64) error {
	if g.maxRatio <= 0 {
		return nil
	}
	if compressedSize <= 0 {
		return fmt.Errorf("security: compressed size must be positive")
	}

	total := g.Extracted()
	ratio := float64(total) / float64(compressedSize)
	if ratio > g.maxRatio {
		slog.Error("archive_ratio_exceeded", "ratio", ratio, "max_ratio", g.maxRatio)
		return fmt.Errorf("security: compression ratio %.2f exceeds max %.2f", ratio, g.maxRatio)
	}
	return nil
}

// Extracted returns the bytes admitted so far.
func (g *ArchiveGuard) Extracted() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.extracted
}

// Reset clears the running total so the guard can be reused.
func (g *ArchiveGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extracted = 0
}

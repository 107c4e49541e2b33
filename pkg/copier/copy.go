// Package copier mounts the Ventoy data partition and copies images onto it.
package copier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
)

// DefaultChunkSize is the copy buffer; progress is reported once per chunk.
const DefaultChunkSize = 1 << 20

// CopyFile streams src to dst in chunks, calling onChunk after each write.
// ctx is checked between chunks; on any failure the partial dst is removed.
// It returns the bytes written and, when hashSource is set, the SHA-256 of
// what was read.
func CopyFile(ctx context.Context, src, dst string, chunkSize int, hashSource bool, onChunk func(written int64)) (int64, string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create destination: %w", err)
	}

	var h hash.Hash
	var r io.Reader = in
	if hashSource {
		h = sha256.New()
		r = io.TeeReader(in, h)
	}

	written, err := copyChunks(ctx, out, r, chunkSize, onChunk)
	if err == nil {
		// Flush to the stick before reporting success.
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("partial_file_remove_failed", "path", dst, "error", rmErr)
		}
		return written, "", err
	}

	sum := ""
	if h != nil {
		sum = hex.EncodeToString(h.Sum(nil))
	}
	return written, sum, nil
}

func copyChunks(ctx context.Context, w io.Writer, r io.Reader, chunkSize int, onChunk func(int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, fmt.Errorf("write failed: %w", werr)
			}
			if m != n {
				return written, io.ErrShortWrite
			}
			if onChunk != nil {
				onChunk(written)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read failed: %w", rerr)
		}
	}
}

// FileSHA256 hashes the file at path.
func FileSHA256(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := copyChunks(ctx, h, f, DefaultChunkSize, nil); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

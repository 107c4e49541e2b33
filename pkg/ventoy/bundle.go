package ventoy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vwriter/ventoy-writer/pkg/errors"
	"github.com/vwriter/ventoy-writer/pkg/security"
	"github.com/vwriter/ventoy-writer/pkg/storage"
)

// Bundle is an extracted Ventoy release ready to run.
type Bundle struct {
	Version string
	Dir     string
	Script  string
	SHA256  string
	Cached  bool
}

// ProgressFunc receives download progress. total is -1 when unknown.
type ProgressFunc func(done, total int64)

// Provider prepares a Ventoy bundle.
type Provider interface {
	Prepare(ctx context.Context, progress ProgressFunc) (*Bundle, error)
}

// Fetcher downloads a release once and caches it under
// <WorkDir>/ventoy/<Version>.
type Fetcher struct {
	Version string
	URL     string
	// SHA256, when set, must match the downloaded archive.
	SHA256 string

	WorkDir string
	Guard   *security.ArchiveGuard
	Client  *http.Client

	// Mirror, when set, is tried before the release URL. A key missing
	// from the bucket falls back to URL.
	Mirror    *storage.Mirror
	MirrorKey string
}

// NewFetcher creates a fetcher for version with the default release URL.
func NewFetcher(workDir, version string, guard *security.ArchiveGuard) *Fetcher {
	if version == "" {
		version = DefaultVersion
	}
	return &Fetcher{
		Version: version,
		URL:     ReleaseURL(version),
		WorkDir: workDir,
		Guard:   guard,
		Client:  http.DefaultClient,
	}
}

// ReleaseURL returns the GitHub release URL of version.
func ReleaseURL(version string) string {
	return fmt.Sprintf(ReleaseURLTemplate, version, version)
}

// CacheDir returns where the extracted bundle lives.
func (f *Fetcher) CacheDir() string {
	return filepath.Join(f.WorkDir, "ventoy", f.Version)
}

// Prepare returns the cached bundle or downloads and extracts it.
func (f *Fetcher) Prepare(ctx context.Context, progress ProgressFunc) (*Bundle, error) {
	if b, ok := f.cached(); ok {
		slog.Info("ventoy_bundle_cached", "version", f.Version, "dir", b.Dir)
		return b, nil
	}

	root := filepath.Join(f.WorkDir, "ventoy")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to create bundle cache")
	}

	staging, err := os.MkdirTemp(root, ".staging-")
	if err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to create staging dir")
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "ventoy.tar.gz")
	sum, err := f.download(ctx, archive, progress)
	if err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to download Ventoy "+f.Version)
	}

	if f.SHA256 != "" && !strings.EqualFold(f.SHA256, sum) {
		slog.Error("ventoy_bundle_checksum_mismatch", "expected", f.SHA256, "actual", sum)
		return nil, errors.Newf(errors.KindInstallation, "bundle checksum mismatch: expected %s, got %s", f.SHA256, sum)
	}

	extractDir := filepath.Join(staging, "extract")
	if err := ExtractTarGz(archive, extractDir, f.Guard); err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to extract Ventoy bundle")
	}
	if _, err := FindBundleDir(extractDir); err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "Ventoy directory not found in archive")
	}
	if err := os.WriteFile(filepath.Join(extractDir, ".sha256"), []byte(sum+"\n"), 0644); err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to record checksum")
	}

	final := f.CacheDir()
	os.RemoveAll(final)
	if err := os.Rename(extractDir, final); err != nil {
		return nil, errors.Classify(errors.KindInstallation, err, "failed to move bundle into cache")
	}

	b, ok := f.cached()
	if !ok {
		return nil, errors.Newf(errors.KindInstallation, "%s missing from Ventoy bundle", ScriptName)
	}
	slog.Info("ventoy_bundle_ready", "version", f.Version, "dir", b.Dir, "sha256", sum[:16]+"...")
	return b, nil
}

func (f *Fetcher) cached() (*Bundle, bool) {
	dir, err := FindBundleDir(f.CacheDir())
	if err != nil {
		return nil, false
	}
	script := filepath.Join(dir, ScriptName)
	if fi, err := os.Stat(script); err != nil || !fi.Mode().IsRegular() {
		return nil, false
	}
	sum, _ := os.ReadFile(filepath.Join(f.CacheDir(), ".sha256"))
	return &Bundle{
		Version: f.Version,
		Dir:     dir,
		Script:  script,
		SHA256:  strings.TrimSpace(string(sum)),
		Cached:  true,
	}, true
}

func (f *Fetcher) download(ctx context.Context, dest string, progress ProgressFunc) (string, error) {
	if f.Mirror != nil {
		key := f.MirrorKey
		if key == "" || strings.HasSuffix(key, "/") {
			key = storage.BundleKey(key, f.Version)
		}
		found, err := f.Mirror.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if !found {
			if f.URL == "" {
				return "", fmt.Errorf("%s not found in bucket %s", key, f.Mirror.Bucket())
			}
			slog.Warn("ventoy_mirror_miss", "bucket", f.Mirror.Bucket(), "key", key, "fallback_url", f.URL)
			return f.httpDownload(ctx, dest, progress)
		}
		res, err := f.Mirror.Download(ctx, key, dest)
		if err != nil {
			return "", err
		}
		if progress != nil {
			progress(res.Size, res.Size)
		}
		return res.SHA256, nil
	}
	return f.httpDownload(ctx, dest, progress)
}

func (f *Fetcher) httpDownload(ctx context.Context, dest string, progress ProgressFunc) (string, error) {
	slog.Info("ventoy_download_start", "url", f.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", errors.Wrap(err, "invalid bundle URL")
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "bundle request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s from %s", resp.Status, f.URL)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Wrap(err, "failed to create archive file")
	}
	defer out.Close()

	hash := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, report: progress}
	size, err := io.Copy(io.MultiWriter(out, hash, pw), resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "bundle download interrupted")
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("ventoy_download_complete", "url", f.URL, "size", humanize.Bytes(uint64(size)), "sha256", sum[:16]+"...")
	return sum, nil
}

type progressWriter struct {
	done   int64
	total  int64
	report ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.report != nil {
		w.report(w.done, w.total)
	}
	return len(p), nil
}

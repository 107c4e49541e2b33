// Package images validates the ISO files a user picked for writing.
package images

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/kdomanski/iso9660"

	"github.com/vwriter/ventoy-writer/pkg/errors"
)

// Extension is the suffix strict mode requires.
const Extension = ".iso"

// Image is one validated source file.
type Image struct {
	Path string
	Name string
	Size int64
	// Label is the ISO 9660 volume identifier, empty when the file does not
	// parse as ISO 9660.
	Label string
}

func (i Image) String() string {
	if i.Label != "" {
		return fmt.Sprintf("%s [%s] (%s)", i.Name, i.Label, humanize.IBytes(uint64(i.Size)))
	}
	return fmt.Sprintf("%s (%s)", i.Name, humanize.IBytes(uint64(i.Size)))
}

// Selection is an ordered set of validated images.
type Selection []Image

// Paths returns the source paths in order.
func (s Selection) Paths() []string {
	paths := make([]string, len(s))
	for i, img := range s {
		paths[i] = img.Path
	}
	return paths
}

// TotalSize returns the sum of all image sizes.
func (s Selection) TotalSize() int64 {
	var total int64
	for _, img := range s {
		total += img.Size
	}
	return total
}

// Clone returns an independent copy, used to freeze a selection for a write.
func (s Selection) Clone() Selection {
	if s == nil {
		return nil
	}
	out := make(Selection, len(s))
	copy(out, s)
	return out
}

// Validator checks image paths.
type Validator struct {
	// Strict rejects files without the .iso extension.
	Strict bool
}

// Validate checks that path exists, is a regular file and is readable.
func (v Validator) Validate(path string) (Image, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Image{}, errors.Classify(errors.KindSelection, err, "invalid image path "+path)
	}

	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, errors.Newf(errors.KindSelection, "image %s does not exist", path)
		}
		return Image{}, errors.Classify(errors.KindSelection, err, "cannot stat image "+path)
	}
	if !fi.Mode().IsRegular() {
		return Image{}, errors.Newf(errors.KindSelection, "image %s is not a regular file", path)
	}
	if v.Strict && !strings.EqualFold(filepath.Ext(abs), Extension) {
		return Image{}, errors.Newf(errors.KindSelection, "image %s is not an %s file", path, Extension)
	}

	f, err := os.Open(abs)
	if err != nil {
		return Image{}, errors.Classify(errors.KindSelection, err, "image "+path+" is not readable")
	}
	defer f.Close()

	img := Image{
		Path:  abs,
		Name:  filepath.Base(abs),
		Size:  fi.Size(),
		Label: volumeLabel(f),
	}
	slog.Debug("image_validated", "path", abs, "size", humanize.IBytes(uint64(img.Size)), "label", img.Label)
	return img, nil
}

// Select validates every path and returns them as a Selection. Two images
// with the same file name would overwrite each other on the device and are
// rejected.
func (v Validator) Select(paths []string) (Selection, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.KindSelection, "no images selected")
	}

	seen := make(map[string]string, len(paths))
	sel := make(Selection, 0, len(paths))
	for _, p := range paths {
		img, err := v.Validate(p)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(img.Name)
		if prev, ok := seen[key]; ok {
			return nil, errors.Newf(errors.KindSelection, "images %s and %s share the file name %s", prev, img.Path, img.Name)
		}
		seen[key] = img.Path
		sel = append(sel, img)
	}
	return sel, nil
}

func volumeLabel(f *os.File) string {
	iso, err := iso9660.OpenImage(f)
	if err != nil {
		return ""
	}
	label, err := iso.Label()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(label)
}

package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/imaging"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

var (
	ErrTooLarge          = errors.New("image exceeds the upload size limit")
	ErrExtensionRejected = errors.New("file type not allowed")
)

// Fetcher loads batch images from URLs and local paths, applying the same
// extension and size limits as uploads.
type Fetcher struct {
	HTTPClient        *http.Client
	AllowedExtensions []string
	MaxBytes          int64
}

// NewFetcher creates a new image fetcher
func NewFetcher(allowed []string, maxBytes int64) *Fetcher {
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		AllowedExtensions: allowed,
		MaxBytes:          maxBytes,
	}
}

// FetchURL downloads one image
func (f *Fetcher) FetchURL(ctx context.Context, imageURL string) (models.ImageInput, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.ImageInput{}, fmt.Errorf("invalid image url: %s", imageURL)
	}

	filename := path.Base(u.Path)
	if filename == "" || filename == "/" || filename == "." {
		filename = "image.jpg"
	}
	if !imaging.ValidExtension(filename, f.AllowedExtensions) {
		return models.ImageInput{}, fmt.Errorf("%w: %s", ErrExtensionRejected, filename)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return models.ImageInput{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return models.ImageInput{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ImageInput{}, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return models.ImageInput{}, err
	}

	slog.Info("Downloaded image", "url", imageURL, "size", len(data))
	return models.ImageInput{Filename: filename, Data: data}, nil
}

// FetchURLs downloads every url in order, stopping at the first failure
func (f *Fetcher) FetchURLs(ctx context.Context, urls []string) ([]models.ImageInput, error) {
	images := make([]models.ImageInput, 0, len(urls))
	for _, u := range urls {
		img, err := f.FetchURL(ctx, u)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// LoadPaths reads local files and directories. Directories contribute their
// allowed files in name order; files with other extensions are skipped there
// but rejected when named explicitly.
func (f *Fetcher) LoadPaths(paths []string) ([]models.ImageInput, error) {
	var images []models.ImageInput
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			img, err := f.loadFile(p)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if entry.IsDir() || !imaging.ValidExtension(entry.Name(), f.AllowedExtensions) {
				continue
			}
			img, err := f.loadFile(filepath.Join(p, entry.Name()))
			if err != nil {
				return nil, err
			}
			images = append(images, img)
		}
	}
	return images, nil
}

// Load accepts a mix of local paths and http(s) URLs
func (f *Fetcher) Load(ctx context.Context, sources []string) ([]models.ImageInput, error) {
	var images []models.ImageInput
	for _, src := range sources {
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			img, err := f.FetchURL(ctx, src)
			if err != nil {
				return nil, err
			}
			images = append(images, img)
			continue
		}
		loaded, err := f.LoadPaths([]string{src})
		if err != nil {
			return nil, err
		}
		images = append(images, loaded...)
	}
	return images, nil
}

func (f *Fetcher) loadFile(p string) (models.ImageInput, error) {
	name := filepath.Base(p)
	if !imaging.ValidExtension(name, f.AllowedExtensions) {
		return models.ImageInput{}, fmt.Errorf("%w: %s", ErrExtensionRejected, name)
	}

	file, err := os.Open(p)
	if err != nil {
		return models.ImageInput{}, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer file.Close()

	data, err := f.readLimited(file)
	if err != nil {
		return models.ImageInput{}, fmt.Errorf("%s: %w", name, err)
	}
	return models.ImageInput{Filename: name, Data: data}, nil
}

func (f *Fetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Package images keeps page scans and the media crops derived from them.
package images

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/zeebo/blake3"

	"github.com/sangwookny/wagner/internal/blocks"
)

var (
	ErrNotImage   = errors.New("not an image")
	ErrInvalidRef = errors.New("invalid image reference")
	ErrNotFound   = errors.New("image not found")
	ErrTooLarge   = errors.New("image too large")
)

// MaxScanSize bounds a scan read from an upload or a URL.
const MaxScanSize = 20 * 1024 * 1024

// Horizontal band kept by every crop, in percent of page width.
const (
	bandLeft  = 5
	bandRight = 95
)

// Store keeps images as files in Dir, addressed by opaque references.
type Store struct {
	Dir        string
	HTTPClient *http.Client
	// MaxBytes bounds fetched scans; zero means MaxScanSize.
	MaxBytes int64
}

// NewStore creates the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &Store{
		Dir: dir,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Save stores an uploaded scan and returns its reference and MIME type.
// The reference is derived from the content, so saving the same scan twice
// yields the same reference.
func (s *Store) Save(data []byte) (ref, mimeType string, err error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return "", "", ErrNotImage
	}
	sum := blake3.Sum256(data)
	ref = "scan_" + hex.EncodeToString(sum[:16]) + "." + kind.Extension

	path := filepath.Join(s.Dir, ref)
	if _, err := os.Stat(path); err == nil {
		return ref, kind.MIME.Value, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write scan: %w", err)
	}
	slog.Debug("Saved scan", "ref", ref, "bytes", len(data))
	return ref, kind.MIME.Value, nil
}

// Path resolves ref inside Dir.
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.Dir, ref), nil
}

// Open returns the bytes and MIME type of a stored image.
func (s *Store) Open(ref string) ([]byte, string, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}
	return data, mimeType, nil
}

// Crop cuts the vertical window c out of the original scan, keeping the
// central horizontal band, and stores it under a new reference.
func (s *Store) Crop(ctx context.Context, originalRef string, c blocks.Crop) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	data, _, err := s.Open(originalRef)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode scan: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	x0 := b.Min.X + w*bandLeft/100
	x1 := b.Min.X + w*bandRight/100
	y0 := b.Min.Y + int(math.Floor(float64(h)*c.Top/100))
	y1 := b.Min.Y + int(math.Ceil(float64(h)*c.Bottom/100))
	if y1 <= y0 {
		y1 = y0 + 1
	}
	if x1 <= x0 {
		x1 = x0 + 1
	}
	cropped := imaging.Crop(img, image.Rect(x0, y0, x1, y1))

	ref := "crop_" + uuid.NewString() + ".png"
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode crop: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, ref), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write crop: %w", err)
	}
	slog.Info("Cropped media block", "original", originalRef, "ref", ref, "top", c.Top, "bottom", c.Bottom)
	return ref, nil
}

// Remove deletes a stored image. A missing file is not an error.
func (s *Store) Remove(ref string) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove image: %w", err)
	}
	return nil
}

// Fetch downloads a scan from url.
func (s *Store) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image URL returned status %d", resp.StatusCode)
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = MaxScanSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, url, limit)
	}
	if !filetype.IsImage(data) {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, url)
	}
	return data, nil
}

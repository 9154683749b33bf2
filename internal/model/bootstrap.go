package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFileName is the model the app ships with.
const DefaultFileName = "ggml-base.bin"

// ErrNoSource is returned when the model is absent and neither an asset nor a URL is configured.
var ErrNoSource = errors.New("model: no asset or download url configured")

// Bootstrapper materialises the model file in a writable directory on first use:
// <DataDir>/models/<FileName>. It copies a packaged asset when one is configured,
// otherwise downloads URL.
type Bootstrapper struct {
	DataDir   string
	FileName  string
	AssetPath string
	URL       string
	// SHA256 is the expected hex digest; empty skips verification.
	SHA256    string
	Client    *http.Client
	Logger    zerolog.Logger

	mu sync.Mutex
}

// Path returns where the model lives once bootstrapped.
func (b *Bootstrapper) Path() string {
	name := b.FileName
	if name == "" {
		name = DefaultFileName
	}
	return filepath.Join(b.DataDir, "models", name)
}

// ModelPath ensures the model exists and returns its path.
func (b *Bootstrapper) ModelPath(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst := b.Path()
	if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	started := time.Now()
	var err error
	switch {
	case strings.TrimSpace(b.AssetPath) != "":
		err = b.copyAsset(dst)
	case strings.TrimSpace(b.URL) != "":
		err = b.download(ctx, dst)
	default:
		return "", fmt.Errorf("%w (want %s)", ErrNoSource, dst)
	}
	if err != nil {
		return "", err
	}
	b.Logger.Info().Str("path", dst).Dur("took", time.Since(started)).Msg("model bootstrapped")
	return dst, nil
}

func (b *Bootstrapper) copyAsset(dst string) error {
	src, err := os.Open(b.AssetPath)
	if err != nil {
		return fmt.Errorf("open model asset: %w", err)
	}
	defer src.Close()
	return b.writeAtomic(dst, src)
}

func (b *Bootstrapper) download(ctx context.Context, dst string) error {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}
	b.Logger.Info().Str("url", b.URL).Msg("downloading model")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: unexpected status %s", resp.Status)
	}
	return b.writeAtomic(dst, resp.Body)
}

// writeAtomic streams r into a temp file next to dst, verifies it and renames it into place.
func (b *Bootstrapper) writeAtomic(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("write model: source is empty")
	}
	if want := strings.ToLower(strings.TrimSpace(b.SHA256)); want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Errorf("model checksum mismatch: got %s, want %s", got, want)
		}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("install model: %w", err)
	}
	return nil
}

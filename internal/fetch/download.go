// Package fetch downloads remote archives into the temp directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/iliyamo/unpacker/internal/logging"
)

// ErrTooLarge is returned when the body exceeds the configured limit.
var ErrTooLarge = errors.New("download exceeds size limit")

// ErrUpstream is returned when the remote server cannot be reached or does
// not answer 200.
var ErrUpstream = errors.New("remote download failed")

// Downloader fetches URLs into an afero filesystem.
type Downloader struct {
	fs     afero.Fs
	client *http.Client
	log    *logging.Logger
}

// Result describes a finished download.
type Result struct {
	Path  string
	Bytes int64
}

// SizeMB is the downloaded size in mebibytes.
func (r Result) SizeMB() float64 { return float64(r.Bytes) / (1024 * 1024) }

func NewDownloader(fs afero.Fs, timeout time.Duration, logger *logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Downloader{
		fs:     fs,
		client: &http.Client{Timeout: timeout},
		log:    logger.With("component", "downloader"),
	}
}

// progressCounter logs progress every step bytes.
type progressCounter struct {
	total, next, step uint64
	limit             int64
	url               string
	log               *logging.Logger
}

func (pc *progressCounter) Write(p []byte) (int, error) {
	pc.total += uint64(len(p))
	if pc.limit > 0 && pc.total > uint64(pc.limit) {
		return 0, ErrTooLarge
	}
	if pc.total >= pc.next {
		pc.log.Debug("downloading", "url", pc.url, "received", humanize.IBytes(pc.total))
		pc.next += pc.step
	}
	return len(p), nil
}

// Download fetches rawURL into dir and returns the file path.  The body is
// written to a .tmp sibling and renamed into place once complete.
// maxBytes <= 0 disables the size limit.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string, maxBytes int64) (Result, error) {
	src := NormalizeURL(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status code %d", ErrUpstream, resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return Result{}, fmt.Errorf("%s announced: %w", humanize.IBytes(uint64(resp.ContentLength)), ErrTooLarge)
	}

	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create download dir: %w", err)
	}
	filePath := filepath.Join(dir, fileName(resp, src))
	tmpFilePath := filePath + ".tmp"

	out, err := d.fs.Create(tmpFilePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	counter := &progressCounter{step: 64 << 20, next: 64 << 20, limit: maxBytes, url: src, log: d.log}
	n, err := io.Copy(out, io.TeeReader(resp.Body, counter))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.fs.Remove(tmpFilePath)
		return Result{}, fmt.Errorf("failed to copy data: %w", err)
	}
	if err := d.fs.Rename(tmpFilePath, filePath); err != nil {
		_ = d.fs.Remove(tmpFilePath)
		return Result{}, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	d.log.Info("download complete", "url", src, "path", filePath, "size", humanize.IBytes(uint64(n)))
	return Result{Path: filePath, Bytes: n}, nil
}

// fileName picks the name from Content-Disposition, then the URL path.
func fileName(resp *http.Response, src string) string {
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if name := sanitize(params["filename"]); name != "" {
			return name
		}
	}
	if u, err := url.Parse(src); err == nil {
		if name := sanitize(path.Base(u.Path)); name != "" && name != "uc" {
			return name
		}
	}
	return "download.bin"
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultMaxBytes int64 = 1 << 20

// Source retrieves the raw descriptor document.
type Source interface {
	Fetch(ctx context.Context, previousETag string) (FetchResult, error)
}

// FetchResult contains the fetched descriptor bytes and response metadata.
type FetchResult struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// HTTPSource retrieves a descriptor over HTTP with ETag caching.
type HTTPSource struct {
	url      string
	client   *http.Client
	maxBytes int64
}

// NewHTTPSource constructs an HTTPSource with the given URL and timeout.
func NewHTTPSource(url string, timeout time.Duration, maxBytes int64) (*HTTPSource, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("descriptor url must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	return &HTTPSource{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		maxBytes: maxBytes,
	}, nil
}

// Fetch downloads the descriptor, optionally using ETag caching.
func (s *HTTPSource) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create request: %w", err)
	}
	if previousETag != "" {
		req.Header.Set("If-None-Match", previousETag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch descriptor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			NotModified:  true,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := readWithLimit(resp.Body, s.maxBytes)
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("descriptor body is empty")
	}

	return FetchResult{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// FileSource reads a descriptor from the local filesystem. The file's
// modification time stands in for the ETag so unchanged files short-circuit.
type FileSource struct {
	path string
}

// NewFileSource constructs a FileSource for the given path.
func NewFileSource(path string) (*FileSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("descriptor path must not be empty")
	}
	return &FileSource{path: path}, nil
}

// Fetch reads the descriptor file.
func (s *FileSource) Fetch(ctx context.Context, previousETag string) (FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("stat descriptor: %w", err)
	}
	etag := fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
	if previousETag != "" && etag == previousETag {
		return FetchResult{ETag: etag, NotModified: true}, nil
	}

	body, err := os.ReadFile(s.path)
	if err != nil {
		return FetchResult{}, fmt.Errorf("read descriptor: %w", err)
	}
	if len(body) == 0 {
		return FetchResult{}, errors.New("descriptor body is empty")
	}

	return FetchResult{Body: body, ETag: etag}, nil
}

// NewSource selects an HTTP or file source based on the location's scheme.
func NewSource(location string, timeout time.Duration) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPSource(location, timeout, 0)
	}
	return NewFileSource(location)
}

func readWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("descriptor body exceeds %d bytes", maxBytes)
	}
	return body, nil
}

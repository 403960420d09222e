package servers

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CanonicalURL hosts the maintained service list
const CanonicalURL = "https://raw.githubusercontent.com/begleysm/ipwatch/master/servers.json"

// ErrUnavailable is returned by a Source that cannot provide a list; the
// next source is tried.
var ErrUnavailable = errors.New("service list unavailable")

//go:embed servers.json
var bundled []byte

// Source provides a list of service endpoints
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Servers returns the endpoint list or an error wrapping ErrUnavailable
	Servers(ctx context.Context) ([]string, error)
}

// FirstAvailable returns the list from the first source that yields one
func FirstAvailable(ctx context.Context, logger *zap.Logger, sources ...Source) ([]string, Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("%w: no sources configured", ErrUnavailable)
	}

	var errs error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		list, err := src.Servers(ctx)
		if err == nil && len(list) > 0 {
			logger.Debug("Loaded service list",
				zap.String("source", src.Name()),
				zap.Int("servers", len(list)))
			return list, src, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty list", ErrUnavailable)
		}
		logger.Debug("Service list source unavailable",
			zap.String("source", src.Name()),
			zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", src.Name(), err))
	}
	return nil, nil, errs
}

// decodeList parses a JSON array of endpoint strings. Blank entries are
// dropped.
func decodeList(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	list := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnavailable)
	}
	return list, nil
}

// FileSource reads a JSON list from a local file
type FileSource struct {
	Path string
}

// Name returns the source name
func (s FileSource) Name() string {
	return "file:" + s.Path
}

// Servers reads and decodes the file
func (s FileSource) Servers(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeList(data)
}

// BundledSource serves the list shipped with the binary
type BundledSource struct{}

// Name returns the source name
func (BundledSource) Name() string {
	return "bundled"
}

// Servers decodes the embedded list
func (BundledSource) Servers(_ context.Context) ([]string, error) {
	return decodeList(bundled)
}

// RemoteSource downloads the list over HTTP
type RemoteSource struct {
	URL       string
	Client    *http.Client
	UserAgent string
}

// NewRemoteSource creates a remote source with a bounded client
func NewRemoteSource(url, userAgent string) *RemoteSource {
	if url == "" {
		url = CanonicalURL
	}
	return &RemoteSource{
		URL:       url,
		UserAgent: userAgent,
		Client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Name returns the source name
func (s *RemoteSource) Name() string {
	return "remote:" + s.URL
}

// Servers fetches and decodes the remote list
func (s *RemoteSource) Servers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	return decodeList(data)
}

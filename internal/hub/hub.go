// Package hub downloads model snapshots from the Hugging Face hub.
//
// A snapshot is pulled once into a local directory and trusted from then
// on: a populated directory is served as-is without touching the network,
// so restarts keep working offline.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultEndpoint = "https://huggingface.co"

// Options configures the hub client.
type Options struct {
	// Endpoint is the hub base URL, defaulting to huggingface.co. Useful
	// for mirrors and for tests.
	Endpoint string

	// Token authenticates against gated or private repos.
	Token string

	MaxRetries  int
	BaseBackoff time.Duration
}

// DownloadProgress receives byte counts as a file downloads. total is -1
// when the hub does not report a content length.
type DownloadProgress func(file string, downloaded, total int64)

// Client talks to the hub API and fetches repo files.
type Client struct {
	endpoint    string
	token       string
	httpClient  *http.Client
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration

	// OnProgress, when set, is called as download bytes arrive.
	OnProgress DownloadProgress
}

// New builds a hub client. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		token:    opts.Token,
		// Downloads of multi-gigabyte weights run long, so the client
		// carries no global timeout; cancellation comes from ctx.
		httpClient:  &http.Client{},
		logger:      logger.Named("hub"),
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
	}
}

type siblingFile struct {
	Rfilename string `json:"rfilename"`
}

type modelInfo struct {
	SHA      string        `json:"sha"`
	Siblings []siblingFile `json:"siblings"`
}

// ListFiles returns the file names a repo holds at the given revision.
func (c *Client) ListFiles(ctx context.Context, repo, revision string) ([]string, error) {
	if revision == "" {
		revision = "main"
	}
	url := fmt.Sprintf("%s/api/models/%s/revision/%s", c.endpoint, repo, revision)

	var files []string
	err := c.withRetry(ctx, "list "+repo, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return newStatusError(resp)
		}

		var info modelInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return fmt.Errorf("decode model info: %w", err)
		}

		files = files[:0]
		for _, s := range info.Siblings {
			if s.Rfilename != "" {
				files = append(files, s.Rfilename)
			}
		}
		return nil
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			switch se.code {
			case http.StatusNotFound:
				return nil, fmt.Errorf("model %s (revision %s) not found on hub", repo, revision)
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("access to model %s denied, check HF_TOKEN", repo)
			}
		}
		return nil, err
	}
	return files, nil
}

// EnsureLocal guarantees a local snapshot of the repo in dir. A directory
// that already holds downloaded files is used without any network traffic.
// pattern optionally narrows which repo files are fetched.
func (c *Client) EnsureLocal(ctx context.Context, repo, revision, dir, pattern string) error {
	if populated(dir) {
		c.logger.Info("model snapshot already present",
			zap.String("repo", repo),
			zap.String("dir", dir),
		)
		return nil
	}

	c.logger.Info("downloading model snapshot",
		zap.String("repo", repo),
		zap.String("revision", revision),
		zap.String("dir", dir),
	)

	files, err := c.ListFiles(ctx, repo, revision)
	if err != nil {
		return err
	}

	var selected []string
	for _, f := range files {
		if matchesPattern(pattern, f) {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no files in %s match %q", repo, pattern)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	start := time.Now()
	for _, f := range selected {
		if err := c.fetchFile(ctx, repo, revision, f, dir); err != nil {
			return fmt.Errorf("download %s: %w", f, err)
		}
	}

	c.logger.Info("model snapshot ready",
		zap.String("dir", dir),
		zap.Int("files", len(selected)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// populated reports whether dir holds at least one fully downloaded file.
// Leftover .partial files do not count.
func populated(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && !strings.HasSuffix(e.Name(), ".partial") {
			return true
		}
	}
	return false
}

func (c *Client) fetchFile(ctx context.Context, repo, revision, name, dir string) error {
	destPath := filepath.Join(dir, filepath.FromSlash(name))
	if _, err := os.Stat(destPath); err == nil {
		c.logger.Debug("file already downloaded", zap.String("file", name))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, revision, name)
	c.logger.Info("downloading file", zap.String("file", name))

	return c.withRetry(ctx, "fetch "+name, func(ctx context.Context) error {
		return c.downloadOnce(ctx, url, name, destPath)
	})
}

// downloadOnce performs a single download attempt, resuming from whatever a
// previous attempt left in the .partial file.
func (c *Client) downloadOnce(ctx context.Context, url, name, destPath string) error {
	partialPath := destPath + ".partial"

	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already holds the complete content.
		return os.Rename(partialPath, destPath)
	default:
		return newStatusError(resp)
	}

	// A 200 despite a Range request means the server ignored the range
	// and sent the whole file; start over instead of appending.
	if resp.StatusCode == http.StatusOK {
		startByte = 0
	}

	total := resp.ContentLength
	if total >= 0 {
		total += startByte
	}

	flags := os.O_CREATE | os.O_WRONLY
	if startByte > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partialPath, flags, 0o644)
	if err != nil {
		return err
	}

	downloaded := startByte
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return writeErr
			}
			downloaded += int64(n)
			if c.OnProgress != nil {
				c.OnProgress(name, downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			return readErr
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(partialPath, destPath)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// matchesPattern checks a repo file name against a shell glob. Matching is
// case-insensitive and tries both the full path and the base name, so
// "*q4_k_m.gguf" also finds weights inside nested directories.
func matchesPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	p := strings.ToLower(pattern)
	n := strings.ToLower(name)
	if ok, _ := path.Match(p, n); ok {
		return true
	}
	ok, _ := path.Match(p, path.Base(n))
	return ok
}

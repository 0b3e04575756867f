// Copyright 2025 The Dinoflash Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dinocore/tools/dinoflash/internal/events"
	"github.com/dinocore/tools/dinoflash/internal/hwver"
	"github.com/dinocore/tools/dinoflash/internal/image"
)

const DefaultURL = "https://dinocore-telemetry-production.up.railway.app/"

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: GET %s: %s", e.URL, e.Status)
}

// NoCompatibleError is returned by Fetch if no build supports the version.
type NoCompatibleError struct {
	Mode    Mode
	Version hwver.Version
}

func (e *NoCompatibleError) Error() string {
	return fmt.Sprintf("registry: no %s build supports hardware version %s", e.Mode, e.Version)
}

type Config struct {
	HTTPClient      *http.Client
	ListTimeout     time.Duration
	DownloadTimeout time.Duration
	Logger          zerolog.Logger
}

type Option func(*Config)

func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) {
		cfg.HTTPClient = c
	}
}

func WithTimeouts(list, download time.Duration) Option {
	return func(cfg *Config) {
		if list > 0 {
			cfg.ListTimeout = list
		}
		if download > 0 {
			cfg.DownloadTimeout = download
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// Client talks to one registry. It is safe for concurrent use.
type Client struct {
	base *url.URL
	cfg  Config
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("registry: unsupported URL %q", baseURL)
	}
	c := &Client{
		base: u,
		cfg: Config{
			HTTPClient:      http.DefaultClient,
			ListTimeout:     15 * time.Second,
			DownloadTimeout: 30 * time.Second,
			Logger:          zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&c.cfg)
	}
	return c, nil
}

func (c *Client) endpoint(m Mode, elem ...string) string {
	return c.base.JoinPath(append([]string{"api", m.collection()}, elem...)...).String()
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{u, resp.StatusCode, resp.Status}
	}
	return resp, nil
}

// Builds lists all builds of the mode.
func (c *Client) Builds(ctx context.Context, m Mode) ([]Build, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()
	u := c.endpoint(m)
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var bs []Build
	if err := json.NewDecoder(resp.Body).Decode(&bs); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", u, err)
	}
	c.cfg.Logger.Debug().Str("url", u).Int("builds", len(bs)).Msg("listed builds")
	return bs, nil
}

// ListCompatible lists the builds of the mode that support v, newest first.
func (c *Client) ListCompatible(ctx context.Context, m Mode, v hwver.Version) ([]Build, error) {
	bs, err := c.Builds(ctx, m)
	if err != nil {
		return nil, err
	}
	return Compatible(bs, v), nil
}

// Download stores the four images of the build in set, overwriting existing
// files. A failed transfer leaves the partial file in place.
func (c *Client) Download(ctx context.Context, rep *events.Reporter, m Mode, id ID, set image.Set) error {
	for _, k := range image.Kinds {
		if err := c.download(ctx, rep, m, id, k, set.Path(k)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) download(ctx context.Context, rep *events.Reporter, m Mode, id ID, k image.Kind, path string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	defer cancel()
	u := c.endpoint(m, string(id), "files", string(k), "download")
	rep.Printf("Downloading %s", k.FileName())
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if e := f.Close(); err == nil {
		err = e
	}
	if err != nil {
		return fmt.Errorf("registry: download %s: %w", k, err)
	}
	c.cfg.Logger.Debug().Str("url", u).Int64("bytes", n).Str("file", path).Msg("downloaded")
	return nil
}

// Fetch clears the image directory, picks the newest build supporting v and
// downloads it.
func (c *Client) Fetch(ctx context.Context, rep *events.Reporter, m Mode, v hwver.Version, set image.Set) (Build, error) {
	if err := set.Clear(); err != nil {
		return Build{}, err
	}
	bs, err := c.ListCompatible(ctx, m, v)
	if err != nil {
		return Build{}, err
	}
	if len(bs) == 0 {
		return Build{}, &NoCompatibleError{m, v}
	}
	b := bs[0]
	rep.Printf("Selected %s build %s (%s)", m, b.Name, b.ID)
	c.cfg.Logger.Info().Str("mode", m.String()).Str("build", string(b.ID)).
		Stringer("version", v).Msg("selected build")
	if err := c.Download(ctx, rep, m, b.ID, set); err != nil {
		return b, err
	}
	return b, nil
}

// Package kakao scrapes menu images from Kakao channel profile pages.
package kakao

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/Hawon-Oh/NyamNyamPing/internal/menu"
	logx "github.com/Hawon-Oh/NyamNyamPing/pkg/logx"
)

const (
	DefaultSelector  = "img.img_thumb"
	DefaultUserAgent = "Mozilla/5.0 (compatible; NyamNyamPing/1.0)"

	DefaultTimeout = 8 * time.Second
	MinTimeout     = 4 * time.Second
	MaxTimeout     = 10 * time.Second

	defaultWorkers = 4
	maxBodyBytes   = 4 << 20
)

type Config struct {
	// Timeout bounds each source independently; clamped to [MinTimeout, MaxTimeout].
	Timeout   time.Duration
	Workers   int
	Selector  string
	UserAgent string
}

// ClampTimeout applies the default and the allowed range.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// Fetcher implements menu.Fetcher over HTTP. The menu is the last element
// matching Selector (the newest profile image); og:image is the fallback.
type Fetcher struct {
	client *http.Client
	cfg    atomic.Pointer[Config]
	log    logx.Logger
}

func New(client *http.Client, cfg Config, log logx.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{client: client, log: log}
	f.Configure(cfg)
	return f
}

// Configure applies cfg to fetches started afterwards.
func (f *Fetcher) Configure(cfg Config) {
	cfg.Timeout = ClampTimeout(cfg.Timeout)
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		cfg.Selector = DefaultSelector
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	f.cfg.Store(&cfg)
}

// Fetch returns one result per source in input order. Sources run
// concurrently and each has its own deadline.
func (f *Fetcher) Fetch(ctx context.Context, sources []menu.Restaurant) []menu.Result {
	cfg := *f.cfg.Load()
	out := make([]menu.Result, len(sources))
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, src := range sources {
		g.Go(func() error {
			u, err := f.fetchOne(ctx, cfg, src)
			out[i] = menu.Result{Name: src.Name, URL: u, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (f *Fetcher) fetchOne(parent context.Context, cfg Config, src menu.Restaurant) (string, error) {
	ctx, cancel := context.WithTimeout(parent, cfg.Timeout)
	defer cancel()

	start := time.Now()
	u, err := f.scrape(ctx, cfg, src.URL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", menu.ErrFetchTimeout, src.Name, cfg.Timeout)
		} else {
			err = fmt.Errorf("%w: %s: %w", menu.ErrFetch, src.Name, err)
		}
		return "", err
	}
	f.log.Debug("menu source fetched", logx.String("source", src.Name), logx.Duration("dur", time.Since(start)))
	return u, nil
}

func (f *Fetcher) scrape(ctx context.Context, cfg Config, raw string) (string, error) {
	base, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	src := ""
	if v, ok := doc.Find(cfg.Selector).Last().Attr("src"); ok {
		src = strings.TrimSpace(v)
	}
	if src == "" {
		if v, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
			src = strings.TrimSpace(v)
		}
	}
	if src == "" {
		return "", errors.New("no menu image on page")
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid image url %q", src)
	}
	return base.ResolveReference(ref).String(), nil
}

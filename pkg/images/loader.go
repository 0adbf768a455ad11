package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
	"golang.org/x/net/context/ctxhttp"
	"golang.org/x/sync/singleflight"
)

const DefaultImageTimeout = 30 * time.Second

// Fetcher downloads the raw bytes behind an image URL.
type Fetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches images with a plain GET.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

func (f *HTTPFetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building image request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := ctxhttp.Do(ctx, client, req)
	if err != nil {
		return nil, fmt.Errorf("fetching image %s: %w", url, err)
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching image %s: unexpected status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", url, err)
	}
	return data, nil
}

// Loader hands out Handles for image keys. Handles for keys already in the
// cache are ready immediately; misses share one in-flight fetch per key, and
// the first successful fetch populates the cache.
type Loader struct {
	cache   *Cache
	fetcher Fetcher
	logger  zerolog.Logger
	timeout time.Duration
	group   singleflight.Group
	fetches atomic.Int64
}

func NewLoader(cache *Cache, fetcher Fetcher, logger zerolog.Logger) *Loader {
	return &Loader{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
		timeout: DefaultImageTimeout,
	}
}

// SetTimeout bounds every shared fetch.
func (l *Loader) SetTimeout(d time.Duration) {
	if d > 0 {
		l.timeout = d
	}
}

// Fetches reports how many network fetches the loader has started.
func (l *Loader) Fetches() int64 {
	return l.fetches.Load()
}

// Load returns a handle for key. onReady, if non-nil, is called once when a
// missing image arrives; it is not called for cache hits, which are ready on
// return. Cancelling ctx detaches the handle from the fetch without
// cancelling the fetch for other waiters.
func (l *Loader) Load(ctx context.Context, key string, onReady func(*Image)) *Handle {
	h := &Handle{
		key:     key,
		ready:   make(chan struct{}),
		settled: make(chan struct{}),
		onReady: onReady,
	}
	if key == "" {
		close(h.settled)
		return h
	}
	if img, ok := l.cache.Get(key); ok {
		h.img = img
		close(h.ready)
		close(h.settled)
		return h
	}

	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.fetch(context.WithoutCancel(ctx), key)
	})
	go func() {
		defer close(h.settled)
		select {
		case res := <-ch:
			if res.Err != nil {
				l.logger.Warn().Err(res.Err).Str("url", key).Msg("Image load failed")
				return
			}
			h.resolve(res.Val.(*Image))
		case <-ctx.Done():
			l.logger.Debug().Str("url", key).Msg("Image handle abandoned before load finished")
		}
	}()
	return h
}

func (l *Loader) fetch(ctx context.Context, key string) (*Image, error) {
	// A sibling fetch may have finished between the caller's cache check and now.
	if img, ok := l.cache.Get(key); ok {
		return img, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.fetches.Add(1)
	data, err := l.fetcher.FetchImage(ctx, key)
	if err != nil {
		return nil, err
	}
	img, err := Decode(key, data)
	if err != nil {
		return nil, err
	}
	l.cache.Set(key, img)
	l.logger.Debug().Str("url", key).Str("format", img.Format).
		Str("size", humanize.Bytes(uint64(img.Size()))).Msg("Image cached")
	return img, nil
}

// Prefetch warms the cache for keys using at most workers concurrent loads
// and returns how many of them ended up cached.
func (l *Loader) Prefetch(ctx context.Context, keys []string, workers int) int {
	if workers < 1 {
		workers = 1
	}
	var loaded atomic.Int64
	swg := sizedwaitgroup.New(workers)
	for _, key := range keys {
		swg.Add()
		go func(key string) {
			defer swg.Done()
			h := l.Load(ctx, key, nil)
			<-h.Settled()
			if _, ok := h.Image(); ok {
				loaded.Add(1)
			}
		}(key)
	}
	swg.Wait()
	return int(loaded.Load())
}

// Handle is one display unit's view of an image key: empty until the image
// is available, then ready for good. A failed load leaves it empty.
type Handle struct {
	key     string
	mu      sync.Mutex
	img     *Image
	ready   chan struct{}
	settled chan struct{}
	onReady func(*Image)
}

func (h *Handle) Key() string { return h.key }

// Image returns the loaded image, or false while none is available.
func (h *Handle) Image() (*Image, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.img, h.img != nil
}

// Ready is closed once the image is available.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// Settled is closed once the load attempt is over, whether or not it succeeded.
func (h *Handle) Settled() <-chan struct{} { return h.settled }

// Wait blocks until the load attempt is over or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Image, bool) {
	select {
	case <-h.settled:
		return h.Image()
	case <-ctx.Done():
		return nil, false
	}
}

func (h *Handle) resolve(img *Image) {
	h.mu.Lock()
	h.img = img
	h.mu.Unlock()
	close(h.ready)
	if h.onReady != nil {
		h.onReady(img)
	}
}

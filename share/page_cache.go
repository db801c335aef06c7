package chshare

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultPageTTL is how long a page stays cached after it was read from disk
const DefaultPageTTL = 120 * time.Minute

// ErrPageNotFound is returned by PageCache.Get for a page that does not exist
var ErrPageNotFound = errors.New("page not found")

type cachedPage struct {
	content []byte
	expires time.Time
}

// PageCache keeps the contents of HTML pages from the web root in memory. An entry
// is dropped when its TTL runs out or when the file changes on disk.
type PageCache struct {
	Logger
	webRoot string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pages   map[string]cachedPage
	watcher *FileWatcher
}

// NewPageCache creates a PageCache over webRoot. ttl <= 0 selects DefaultPageTTL.
func NewPageCache(logger Logger, webRoot string, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	return &PageCache{
		Logger:  logger.Fork("pages"),
		webRoot: webRoot,
		ttl:     ttl,
		now:     time.Now,
		pages:   map[string]cachedPage{},
	}
}

// Watch invalidates cached pages when their files change. Without it entries only
// expire by TTL.
func (pc *PageCache) Watch() error {
	w, err := NewFileWatcher(pc.Logger, pc.webRoot, pc.Invalidate)
	if err != nil {
		return err
	}
	pc.mu.Lock()
	pc.watcher = w
	pc.mu.Unlock()
	return nil
}

// Get returns the contents of the named page, reading it from disk on a miss
func (pc *PageCache) Get(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrPageNotFound, name)
	}
	now := pc.now()
	pc.mu.Lock()
	p, ok := pc.pages[name]
	pc.mu.Unlock()
	if ok && now.Before(p.expires) {
		return p.content, nil
	}

	b, err := os.ReadFile(filepath.Join(pc.webRoot, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPageNotFound, name)
		}
		return nil, pc.Errorf("Unable to read page %s: %s", name, err)
	}
	pc.mu.Lock()
	pc.pages[name] = cachedPage{content: b, expires: now.Add(pc.ttl)}
	pc.mu.Unlock()
	pc.TLogf("Cached %s (%d bytes)", name, len(b))
	return b, nil
}

// Invalidate drops the named page from the cache
func (pc *PageCache) Invalidate(name string) {
	pc.mu.Lock()
	_, ok := pc.pages[name]
	delete(pc.pages, name)
	pc.mu.Unlock()
	if ok {
		pc.DLogf("Invalidated %s", name)
	}
}

// Close stops watching the web root
func (pc *PageCache) Close() error {
	pc.mu.Lock()
	w := pc.watcher
	pc.watcher = nil
	pc.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

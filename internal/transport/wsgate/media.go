package wsgate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	getter "github.com/hashicorp/go-getter"

	logx "wablast/pkg/logx"
)

// mediaCache downloads remote media references to local temp storage and
// remembers the path per URL for the lifetime of the session. The cache is
// purged on disconnect so a fresh session never reuses stale files.
type mediaCache struct {
	dir      string
	retryMax int
	log      logx.Logger

	mu    sync.Mutex
	paths map[string]string
}

func newMediaCache(dir string, retryMax int, log logx.Logger) (*mediaCache, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "wablast-media-")
		if err != nil {
			return nil, errors.Wrap(err, "media dir")
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "media dir")
	}
	return &mediaCache{dir: dir, retryMax: retryMax, log: log, paths: map[string]string{}}, nil
}

// fetch resolves a media reference to a local path. Local paths are returned
// as-is; remote URLs are downloaded with bounded retry and exponential
// backoff, then cached per URL.
func (m *mediaCache) fetch(ctx context.Context, ref string) (string, error) {
	if !isRemote(ref) {
		if _, err := os.Stat(ref); err != nil {
			return "", errors.Wrapf(err, "media %q", ref)
		}
		return ref, nil
	}

	m.mu.Lock()
	if p, ok := m.paths[ref]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	dst := filepath.Join(m.dir, cacheName(ref))

	var last error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= m.retryMax; attempt++ {
		cl := &getter.Client{
			Ctx:  ctx,
			Src:  ref,
			Dst:  dst,
			Mode: getter.ClientModeFile,
		}
		if err := cl.Get(); err != nil {
			last = err
			m.log.Warn("media download failed",
				logx.String("url", ref), logx.Int("attempt", attempt), logx.Err(err))
			if attempt == m.retryMax {
				break
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		m.mu.Lock()
		m.paths[ref] = dst
		m.mu.Unlock()
		m.log.Debug("media cached", logx.String("url", ref), logx.String("path", dst))
		return dst, nil
	}
	return "", errors.Wrapf(last, "media download exhausted %d attempts", m.retryMax)
}

// purge drops all cached downloads. Called when the session ends.
func (m *mediaCache) purge() {
	m.mu.Lock()
	paths := m.paths
	m.paths = map[string]string{}
	m.mu.Unlock()

	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func isRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func cacheName(ref string) string {
	sum := sha1.Sum([]byte(ref))
	name := hex.EncodeToString(sum[:8])
	if u, err := url.Parse(ref); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 8 {
			name += ext
		}
	}
	return name
}

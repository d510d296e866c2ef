package ollama

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// analysisCache holds raw analysis responses keyed by file identity, so a
// file that has not changed on disk is not sent to the model twice.
type analysisCache struct {
	lru *expirable.LRU[string, json.RawMessage]
}

func newAnalysisCache(size int, ttl time.Duration) *analysisCache {
	return &analysisCache{
		lru: expirable.NewLRU[string, json.RawMessage](size, nil, ttl),
	}
}

// cacheKey identifies a file version. Any write that changes size or mtime
// produces a new key.
func cacheKey(model, path string, info os.FileInfo) string {
	return fmt.Sprintf("%s|%s|%d|%d", model, path, info.Size(), info.ModTime().UnixNano())
}

func (c *analysisCache) get(key string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *analysisCache) add(key string, v json.RawMessage) {
	if c == nil {
		return
	}
	c.lru.Add(key, v)
}

func (c *analysisCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

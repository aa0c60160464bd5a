package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskloom/internal/models"

	"github.com/patrickmn/go-cache"
)

// PreviewCache keeps recently built previews per (project, options) for a short TTL.
// Previews are immutable so cached pointers are shared between callers.
type PreviewCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewPreviewCache creates a cache with the given TTL. Expired entries are purged every 5 TTLs.
func NewPreviewCache(ttl time.Duration) *PreviewCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PreviewCache{
		cache: cache.New(ttl, 5*ttl),
		ttl:   ttl,
	}
}

// Get returns the cached preview for projectID and opts, if present
func (c *PreviewCache) Get(projectID string, opts PreviewOptions) (*models.ContextPreview, bool) {
	value, found := c.cache.Get(previewCacheKey(projectID, opts))
	if !found {
		return nil, false
	}
	preview, ok := value.(*models.ContextPreview)
	return preview, ok
}

// Set stores a preview with the default TTL
func (c *PreviewCache) Set(projectID string, opts PreviewOptions, preview *models.ContextPreview) {
	c.cache.Set(previewCacheKey(projectID, opts), preview, cache.DefaultExpiration)
}

// Invalidate drops every cached preview of a project
func (c *PreviewCache) Invalidate(projectID string) int {
	prefix := strconv.Quote(projectID) + "|"
	removed := 0
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
			removed++
		}
	}
	return removed
}

// Count returns the number of live entries
func (c *PreviewCache) Count() int {
	return c.cache.ItemCount()
}

// Flush empties the cache, used after the engine tunables change
func (c *PreviewCache) Flush() {
	c.cache.Flush()
}

// previewCacheKey quotes the project id and focus so keys of different projects
// never share a prefix
func previewCacheKey(projectID string, opts PreviewOptions) string {
	return fmt.Sprintf("%q|%d|%t|%t|%t|%q",
		projectID,
		opts.MaxTokens,
		opts.IncludeTasks,
		opts.IncludeCapturedKnowledge,
		opts.IncludeExternalActivity,
		opts.FocusQuery,
	)
}

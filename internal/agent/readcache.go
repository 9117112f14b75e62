package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// readCache memoizes read tool results within a single turn, so a model that
// repeats an identical lookup does not hit the store twice.
type readCache struct {
	entries map[string]toolOutput
}

type toolOutput struct {
	content string
	isError bool
}

func newReadCache() *readCache {
	return &readCache{entries: make(map[string]toolOutput)}
}

func (c *readCache) get(tool string, params map[string]any) (toolOutput, bool) {
	out, ok := c.entries[cacheKey(tool, params)]
	return out, ok
}

func (c *readCache) set(tool string, params map[string]any, out toolOutput) {
	if out.isError {
		return
	}
	c.entries[cacheKey(tool, params)] = out
}

// cacheKey creates a deterministic key from tool name and parameters.
// encoding/json sorts map keys, so equal parameter maps hash equally.
func cacheKey(tool string, params map[string]any) string {
	data, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(tool+"|"), data...))
	return fmt.Sprintf("%x", h[:16])
}

package models

// CacheEntry stores a cached generation. Timestamp is epoch milliseconds.
type CacheEntry struct {
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
	Tokens    int    `json:"tokens"`
}

// CacheStats reports cache performance counters.
type CacheStats struct {
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	TotalTokensSaved int64 `json:"totalTokensSaved"`
}

// Package flags gates optional doorlock behaviour behind persisted feature
// flags with a short-lived process-local cache.
package flags

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a cached flag value may be served.
const DefaultTTL = 5 * time.Second

// Flag is a persisted feature flag.
type Flag struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsEnabled   bool      `json:"isEnabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Handlers run after an administrative toggle commits. Either may be nil.
type Handlers struct {
	OnEnable  func(ctx context.Context) error
	OnDisable func(ctx context.Context) error
}

type cacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

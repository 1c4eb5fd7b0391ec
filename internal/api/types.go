package api

import (
	"time"

	"github.com/examsight/examsync/internal/cache"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
}

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version" example:"v0.1.0"`
	Commit    string `json:"commit" example:"abc123def"`
	BuildDate string `json:"build_date" example:"2026-01-15 10:30:00 UTC"`
	GoVersion string `json:"go_version" example:"go1.25.2"`
	Platform  string `json:"platform" example:"linux/amd64"`
}

// CacheResponse lists the cached keys of the session
type CacheResponse struct {
	Entries []CacheEntryResponse `json:"entries"`
	Pending []string             `json:"pending"`
}

// CacheEntryResponse describes one cached key. Value is only set when a
// single entry is requested.
type CacheEntryResponse struct {
	Key       string     `json:"key"`
	HasValue  bool       `json:"has_value"`
	Error     string     `json:"error,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	MutatedAt *time.Time `json:"mutated_at,omitempty"`
	Immutable bool       `json:"immutable"`
	Value     any        `json:"value,omitempty"`
}

func newCacheEntryResponse(e cache.Entry, withValue bool) CacheEntryResponse {
	resp := CacheEntryResponse{
		Key:       e.Key,
		HasValue:  e.HasValue,
		FetchedAt: timePtr(e.FetchedAt),
		MutatedAt: timePtr(e.MutatedAt),
		Immutable: e.Immutable,
	}
	if e.Err != nil {
		resp.Error = e.Err.Error()
	}
	if withValue && e.HasValue {
		resp.Value = e.Value
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

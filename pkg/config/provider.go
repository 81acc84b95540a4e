package config

import (
	"context"
	"strconv"
	"time"

	"synthv/pkg/store"
)

// Provider defines the interface for accessing unified configuration.
type Provider interface {
	// Image defaults
	ImageAspectRatio(ctx context.Context) string
	ImageCount(ctx context.Context) int
	ImageMIMEType(ctx context.Context) string

	// Polling
	PollInterval(ctx context.Context) time.Duration

	// RememberedAPIKey is the key the user asked to keep across restarts. Empty when none.
	RememberedAPIKey(ctx context.Context) string

	// Raw access
	AppConfig() *Config
}

// UnifiedProvider implements Provider by bridging static Config and persistent Store.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider creates a new UnifiedProvider. st may be nil.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{
		base:  base,
		store: st,
	}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) ImageAspectRatio(ctx context.Context) string {
	v := p.getString(ctx, KeyImageAspectRatio, p.base.Image.AspectRatio)
	if !ValidAspectRatio(v) {
		return p.base.Image.AspectRatio
	}
	return v
}

func (p *UnifiedProvider) ImageCount(ctx context.Context) int {
	n := p.getInt(ctx, KeyImageCount, p.base.Image.Count)
	if n < 1 || n > 4 {
		return p.base.Image.Count
	}
	return n
}

func (p *UnifiedProvider) ImageMIMEType(ctx context.Context) string {
	return p.getString(ctx, KeyImageMIMEType, p.base.Image.MIMEType)
}

func (p *UnifiedProvider) PollInterval(ctx context.Context) time.Duration {
	d := p.getDuration(ctx, KeyPollInterval, p.base.Poll.Interval.Std())
	if d <= 0 {
		return p.base.Poll.Interval.Std()
	}
	return d
}

func (p *UnifiedProvider) RememberedAPIKey(ctx context.Context) string {
	return p.getString(ctx, KeyGeminiAPIKey, "")
}

// --- Helpers ---

func (p *UnifiedProvider) getString(ctx context.Context, key, fallback string) string {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			return val
		}
	}
	return fallback
}

func (p *UnifiedProvider) getInt(ctx context.Context, key string, fallback int) int {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				return i
			}
		}
	}
	return fallback
}

func (p *UnifiedProvider) getDuration(ctx context.Context, key string, fallback time.Duration) time.Duration {
	if p.store != nil {
		if val, ok := p.store.GetState(ctx, key); ok && val != "" {
			if dur, err := ParseDuration(val); err == nil {
				return dur
			}
		}
	}
	return fallback
}

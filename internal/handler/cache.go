// Package handler resolves, per type tag, the external application that best
// serves it, and memoizes the answer until the handler landscape changes.
package handler

import (
	"context"
	"strconv"
	"sync"

	"contact-aggregator/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ActionView is the probe action used for every type tag.
const ActionView = "android.intent.action.VIEW"

// Intent describes the probe issued for a type tag.
type Intent struct {
	Action  string `json:"action"`
	TypeTag string `json:"type_tag"`
	DataID  int64  `json:"data_id"`
}

// ProbeIntent returns the canonical probe for typeTag.
func ProbeIntent(typeTag string) Intent {
	return Intent{Action: ActionView, TypeTag: typeTag, DataID: -1}
}

// Candidate is one handler able to serve an intent.
type Candidate struct {
	Component models.ComponentID `json:"component"`
	Label     string             `json:"label"`
	System    bool               `json:"system"`
}

// Preferred is the platform's default resolution for an intent.
type Preferred struct {
	Component      models.ComponentID `json:"component"`
	Label          string             `json:"label"`
	Disambiguation bool               `json:"disambiguation"`
}

// Probe queries the platform for handlers.
// QueryCandidates must return candidates in platform order; QueryPreferred
// returns nil when the platform has no default.
type Probe interface {
	QueryCandidates(ctx context.Context, intent Intent) ([]Candidate, error)
	QueryPreferred(ctx context.Context, intent Intent) (*Preferred, error)
}

// Descriptor is a resolved handler.
type Descriptor struct {
	Component models.ComponentID `json:"component"`
	Label     string             `json:"label"`
}

// Cache memoizes the best handler per type tag, including the absence of one.
// It is safe for concurrent use; each tag is resolved at most once at a time.
type Cache struct {
	probe  Probe
	logger *zap.Logger

	mu         sync.RWMutex
	entries    map[string]*Descriptor // nil value: resolved to no handler
	generation uint64

	group singleflight.Group
}

// NewCache creates an empty cache backed by probe.
func NewCache(probe Probe, logger *zap.Logger) *Cache {
	return &Cache{
		probe:   probe,
		logger:  logger,
		entries: make(map[string]*Descriptor),
	}
}

// ResolveLabel returns the label of the best handler for typeTag.
func (c *Cache) ResolveLabel(ctx context.Context, typeTag string) (string, bool) {
	d := c.resolve(ctx, typeTag)
	if d == nil {
		return "", false
	}
	return d.Label, true
}

// ResolveComponent returns the component of the best handler for typeTag.
func (c *Cache) ResolveComponent(ctx context.Context, typeTag string) (models.ComponentID, bool) {
	d := c.resolve(ctx, typeTag)
	if d == nil {
		return models.ComponentID{}, false
	}
	return d.Component, true
}

// HasHandler reports whether any handler serves typeTag.
func (c *Cache) HasHandler(ctx context.Context, typeTag string) bool {
	return c.resolve(ctx, typeTag) != nil
}

// Clear drops every entry. Resolutions in flight when Clear is called do not
// repopulate the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Descriptor)
	c.generation++
	c.mu.Unlock()
}

// Len returns the number of memoized tags, including those without a handler.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) lookup(typeTag string) (*Descriptor, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[typeTag]
	return d, c.generation, ok
}

// resolution is the shared result of one probe. cancelled is set when the
// caller that ran the probe had its context cancelled.
type resolution struct {
	best      *Descriptor
	cancelled bool
}

func (c *Cache) resolve(ctx context.Context, typeTag string) *Descriptor {
	for {
		d, gen, ok := c.lookup(typeTag)
		if ok {
			return d
		}

		key := strconv.FormatUint(gen, 10) + "\x00" + typeTag
		v, _, _ := c.group.Do(key, func() (interface{}, error) {
			if d, _, ok := c.lookup(typeTag); ok {
				return resolution{best: d}, nil
			}
			best := c.bestMatch(ctx, typeTag)
			cancelled := ctx.Err() != nil

			c.mu.Lock()
			// a cancelled probe is not an answer
			if c.generation == gen && !cancelled {
				c.entries[typeTag] = best
			}
			c.mu.Unlock()
			return resolution{best: best, cancelled: cancelled}, nil
		})

		res := v.(resolution)
		if !res.cancelled || ctx.Err() != nil {
			return res.best
		}
		// another caller's cancellation; probe again under our own context
	}
}

// bestMatch picks the handler for typeTag: the only candidate, else the
// platform default unless it is a disambiguation placeholder, else the first
// system candidate, else the first candidate.
func (c *Cache) bestMatch(ctx context.Context, typeTag string) *Descriptor {
	intent := ProbeIntent(typeTag)
	candidates, err := c.probe.QueryCandidates(ctx, intent)
	if err != nil {
		c.logger.Warn("Failed to query handler candidates",
			zap.String("type_tag", typeTag),
			zap.Error(err),
		)
		return nil
	}

	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return descriptorOf(candidates[0])
	}

	preferred, err := c.probe.QueryPreferred(ctx, intent)
	if err != nil {
		c.logger.Debug("Failed to query preferred handler",
			zap.String("type_tag", typeTag),
			zap.Error(err),
		)
	} else if preferred != nil && !preferred.Disambiguation {
		for _, cand := range candidates {
			if cand.Component == preferred.Component {
				return descriptorOf(cand)
			}
		}
		return &Descriptor{Component: preferred.Component, Label: preferred.Label}
	}

	for _, cand := range candidates {
		if cand.System {
			return descriptorOf(cand)
		}
	}
	return descriptorOf(candidates[0])
}

func descriptorOf(c Candidate) *Descriptor {
	return &Descriptor{Component: c.Component, Label: c.Label}
}

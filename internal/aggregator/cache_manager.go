package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"contact-aggregator/internal/models"

	"go.uber.org/zap"
)

// Snapshot keys.
const (
	EntitiesKey = "contacts:aggregate:full"
	LabelsKey   = "contacts:labels"
)

// Snapshot is the published result of one aggregation pass.
type Snapshot struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Entities    []models.ContactEntity `json:"entities"`
}

// CacheManager publishes aggregation results to the KV store.
type CacheManager struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewCacheManager creates a manager writing entries that expire after ttl.
func NewCacheManager(kv KVStore, ttl time.Duration, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Publish stores the entities of a pass together with the label map so
// readers see both from the same pass.
func (c *CacheManager) Publish(ctx context.Context, entities []models.ContactEntity, labels map[string]string) error {
	snapshot, err := json.Marshal(Snapshot{GeneratedAt: c.now().UTC(), Entities: entities})
	if err != nil {
		return fmt.Errorf("failed to marshal contact snapshot: %w", err)
	}
	labelDoc, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	err = c.kv.SetAll(ctx, map[string][]byte{
		EntitiesKey: snapshot,
		LabelsKey:   labelDoc,
	}, c.ttl)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	c.logger.Debug("Published contact snapshot",
		zap.Int("entities", len(entities)),
		zap.Int("labels", len(labels)),
		zap.Int("bytes", len(snapshot)),
	)
	return nil
}

// Entities returns the last published snapshot.
func (c *CacheManager) Entities(ctx context.Context) (*Snapshot, error) {
	var snapshot Snapshot
	if err := c.load(ctx, EntitiesKey, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Labels returns the published label map.
func (c *CacheManager) Labels(ctx context.Context) (map[string]string, error) {
	var labels map[string]string
	if err := c.load(ctx, LabelsKey, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func (c *CacheManager) load(ctx context.Context, key string, dst interface{}) error {
	val, err := c.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Invalidate removes the label map. The entity snapshot stays until the
// next pass replaces it.
func (c *CacheManager) Invalidate(ctx context.Context) error {
	if err := c.kv.Delete(ctx, LabelsKey); err != nil {
		return fmt.Errorf("failed to delete labels: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"contact-aggregator/internal/aggregator"
	"contact-aggregator/internal/config"
	"contact-aggregator/internal/consumer"
	"contact-aggregator/internal/handler"
	"contact-aggregator/internal/models"
	"contact-aggregator/internal/platform"
	"contact-aggregator/internal/repository"
	"contact-aggregator/internal/schema"
	"contact-aggregator/internal/typetag"

	"contact-aggregator/common/database"
	mqttcommon "contact-aggregator/common/mqtt"
	rediscommon "contact-aggregator/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Invalidation modes.
const (
	InvalidationStreams = "streams"
	InvalidationMQTT    = "mqtt"
	InvalidationNone    = "none"
)

// Aggregator runs one aggregation pass over the given type tags.
type Aggregator interface {
	AggregateTags(ctx context.Context, tags []string) []models.ContactEntity
}

// LabelCache produces unique labels and can be cleared.
type LabelCache interface {
	UniqueLabels(ctx context.Context, typeTags []string) map[string]string
	Clear()
}

// Clearable is a cache with a full reset.
type Clearable interface {
	Clear()
}

// TagLister lists the allowed type tags.
type TagLister interface {
	AllowedTags(ctx context.Context) []string
}

// SnapshotPublisher stores pass results for readers of the snapshot.
type SnapshotPublisher interface {
	Publish(ctx context.Context, entities []models.ContactEntity, labels map[string]string) error
	Invalidate(ctx context.Context) error
}

// Runner runs until ctx is done.
type Runner interface {
	Start(ctx context.Context) error
}

// AggregatorService runs aggregation passes and publishes their results.
type AggregatorService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	aggregator  Aggregator
	labels      LabelCache
	columns     Clearable
	tags        TagLister
	publisher   SnapshotPublisher
	invalidator Runner

	// retry delays for starting the invalidator
	startBackoff    time.Duration
	maxStartBackoff time.Duration

	passMu  sync.Mutex
	refresh chan struct{}
}

// components are the collaborators of the service.
type components struct {
	aggregator Aggregator
	labels     LabelCache
	columns    Clearable
	tags       TagLister
	publisher  SnapshotPublisher
}

// NewAggregatorService connects to the directory database, Redis, the
// registry and, in mqtt mode, the broker, and wires the pipeline.
func NewAggregatorService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AggregatorService, error) {
	if err := validateInvalidationMode(cfg.Invalidation.Mode); err != nil {
		return nil, err
	}

	policy, err := typetag.LoadPolicy(cfg.Aggregator.TypePolicyFile)
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := rediscommon.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	directory := repository.NewDirectoryRepository(db, logger)
	registry := platform.NewRegistryClient(cfg.Registry.BaseURL, cfg.Registry.Timeout, cfg.Registry.RetryCount, logger)

	var schemaProbe schema.SchemaProbe = registry
	if cfg.Aggregator.SchemaDir != "" {
		schemaProbe = platform.NewDirSchemaProbe(cfg.Aggregator.SchemaDir)
	}

	handlerCache := handler.NewCache(registry, logger)
	columnRegistry := schema.NewRegistry(registry, schemaProbe, cfg.Aggregator.ContactsAuthority, logger)
	tagProvider := typetag.NewProvider(directory, handlerCache, policy, logger)
	contactAggregator := aggregator.NewContactAggregator(
		directory,
		handlerCache,
		columnRegistry,
		tagProvider,
		cfg.Aggregator.PhotoURIBase,
		logger,
	)
	cacheManager := aggregator.NewCacheManager(
		aggregator.NewRedisKVStore(redisClient),
		time.Duration(cfg.Aggregator.SnapshotTTL)*time.Second,
		logger,
	)

	s := newAggregatorService(cfg, logger, components{
		aggregator: contactAggregator,
		labels:     handlerCache,
		columns:    columnRegistry,
		tags:       tagProvider,
		publisher:  cacheManager,
	})
	s.db = db
	s.redisClient = redisClient

	switch cfg.Invalidation.Mode {
	case InvalidationStreams:
		s.invalidator = consumer.NewEventConsumer(
			redisClient,
			s,
			logger,
			cfg.Invalidation.Stream,
			cfg.Invalidation.ConsumerGroup,
			cfg.Invalidation.ConsumerName,
			int64(cfg.Invalidation.BatchSize),
		)
	case InvalidationMQTT:
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			redisClient.Close()
			db.Close()
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
		s.mqttClient = mqttClient
		s.invalidator = consumer.NewMQTTInvalidator(mqttClient, s, cfg.Invalidation.Topic, cfg.MQTT.QoS, logger)
	}

	return s, nil
}

func newAggregatorService(cfg *config.Config, logger *zap.Logger, c components) *AggregatorService {
	return &AggregatorService{
		config:     cfg,
		logger:     logger,
		aggregator: c.aggregator,
		labels:     c.labels,
		columns:    c.columns,
		tags:       c.tags,
		publisher:  c.publisher,
		refresh:    make(chan struct{}, 1),

		startBackoff:    time.Second,
		maxStartBackoff: 30 * time.Second,
	}
}

func validateInvalidationMode(mode string) error {
	switch mode {
	case InvalidationStreams, InvalidationMQTT, InvalidationNone:
		return nil
	}
	return fmt.Errorf("unsupported invalidation mode: %s", mode)
}

// Start runs the invalidator, if any, and the polling loop until ctx is done.
func (s *AggregatorService) Start(ctx context.Context) error {
	s.logger.Info("Starting contact aggregator service",
		zap.String("invalidation_mode", s.config.Invalidation.Mode),
		zap.Int("interval_seconds", s.config.Aggregator.Interval),
	)

	if s.invalidator != nil {
		go s.runInvalidator(ctx)
	}

	return s.startPollingMode(ctx)
}

// runInvalidator starts the invalidator, retrying with exponential backoff
// until it starts cleanly or ctx is done.
func (s *AggregatorService) runInvalidator(ctx context.Context) {
	backoffDuration := s.startBackoff
	for {
		err := s.invalidator.Start(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		s.logger.Error("Failed to start cache invalidation",
			zap.Error(err),
			zap.Duration("backoff", backoffDuration),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDuration):
			backoffDuration *= 2
			if backoffDuration > s.maxStartBackoff {
				backoffDuration = s.maxStartBackoff
			}
		}
	}
}

// startPollingMode runs a pass at startup, on every tick and after every
// cache invalidation.
func (s *AggregatorService) startPollingMode(ctx context.Context) error {
	interval := time.Duration(s.config.Aggregator.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting polling mode", zap.Duration("interval", interval))

	if err := s.RunPass(ctx); err != nil {
		s.logger.Error("Failed to aggregate contacts on startup", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.refresh:
			s.logger.Debug("Refreshing after cache invalidation")
		}
		if err := s.RunPass(ctx); err != nil {
			s.logger.Error("Failed to aggregate contacts", zap.Error(err))
		}
	}
}

// RunPass aggregates the directory and publishes entities and labels for
// the same tag set. Passes are serialised.
func (s *AggregatorService) RunPass(ctx context.Context) error {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	tags := s.tags.AllowedTags(ctx)
	entities := s.aggregator.AggregateTags(ctx, tags)
	if err := ctx.Err(); err != nil {
		return err
	}
	labels := s.labels.UniqueLabels(ctx, tags)
	if err := s.publisher.Publish(ctx, entities, labels); err != nil {
		return fmt.Errorf("failed to publish contacts: %w", err)
	}

	s.logger.Info("Completed aggregation pass",
		zap.Int("entity_count", len(entities)),
		zap.Int("label_count", len(labels)),
	)
	return nil
}

// ClearCaches resets the handler and detail column caches, drops the
// published labels and schedules a refresh pass.
func (s *AggregatorService) ClearCaches(ctx context.Context) {
	s.labels.Clear()
	s.columns.Clear()
	if err := s.publisher.Invalidate(ctx); err != nil {
		s.logger.Warn("Failed to invalidate published labels", zap.Error(err))
	}

	select {
	case s.refresh <- struct{}{}:
	default:
	}
	s.logger.Info("Cleared handler caches")
}

// Stop releases connections.
func (s *AggregatorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping contact aggregator service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	return database.Close(s.db)
}

// Package schema discovers, per type tag, which data column holds the value a
// user would recognise, from the contacts structure declared by sync adapters.
package schema

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"contact-aggregator/internal/models"

	"go.uber.org/zap"
)

// Metadata names probed for a package's contacts structure, in order.
var MetadataNames = []string{
	"android.provider.ALTERNATE_CONTACTS_STRUCTURE",
	"android.provider.CONTACTS_STRUCTURE",
}

// Built-in detail columns; they replace whatever a scanned schema declares.
var overrides = map[string]string{
	models.EmailTypeTag: "data1",
	models.PhoneTypeTag: "data1",
}

// SyncAdapter is a sync adapter registration.
type SyncAdapter struct {
	AccountType string `json:"account_type"`
	Authority   string `json:"authority"`
}

// Authenticator is an account authenticator and the package that owns it.
type Authenticator struct {
	Type    string `json:"type"`
	Package string `json:"package"`
}

// AccountRegistry lists sync adapters and authenticators.
type AccountRegistry interface {
	SyncAdapterTypes(ctx context.Context) ([]SyncAdapter, error)
	Authenticators(ctx context.Context) ([]Authenticator, error)
}

// ErrUnreadableResource marks a schema resource that exists but can never be
// read, such as a dangling link or a forbidden file. The package contributes
// nothing and the scan still completes.
var ErrUnreadableResource = errors.New("unreadable schema resource")

// SchemaProbe opens the first schema resource of pkg found under names.
// It returns nil, nil when the package declares none. Errors wrapping
// ErrUnreadableResource are permanent; any other error leaves the scan
// incomplete.
type SchemaProbe interface {
	FindSchemaResource(ctx context.Context, pkg string, names []string) (io.ReadCloser, error)
}

// Registry memoizes the type tag -> detail column map. Only a scan that
// reached every package is memoized.
type Registry struct {
	accounts  AccountRegistry
	probe     SchemaProbe
	authority string
	logger    *zap.Logger

	scanMu sync.Mutex

	mu         sync.RWMutex
	columns    map[string]string // nil until a complete scan
	generation uint64
}

// NewRegistry creates an empty registry scanning sync adapters of authority.
func NewRegistry(accounts AccountRegistry, probe SchemaProbe, authority string, logger *zap.Logger) *Registry {
	return &Registry{
		accounts:  accounts,
		probe:     probe,
		authority: authority,
		logger:    logger,
	}
}

// DetailColumn returns the detail column of typeTag, if one is declared.
func (r *Registry) DetailColumn(ctx context.Context, typeTag string) (string, bool) {
	column := r.FetchAll(ctx)[typeTag]
	return column, column != ""
}

// FetchAll returns a copy of the full map, scanning on first use.
func (r *Registry) FetchAll(ctx context.Context) map[string]string {
	if cols, _ := r.snapshot(); cols != nil {
		return cols
	}

	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	cols, gen := r.snapshot()
	if cols != nil {
		return cols
	}

	cols, complete := r.scan(ctx)
	if complete {
		r.mu.Lock()
		if r.generation == gen {
			r.columns = cols
		}
		r.mu.Unlock()
	}
	return copyMap(cols)
}

// Memoized reports whether a complete scan is cached.
func (r *Registry) Memoized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.columns != nil
}

// Clear drops the memoized map.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.columns = nil
	r.generation++
	r.mu.Unlock()
}

func (r *Registry) snapshot() (map[string]string, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.columns == nil {
		return nil, r.generation
	}
	return copyMap(r.columns), r.generation
}

// scan builds the map. complete is false when the registry or a probe failed,
// or ctx ended, before every package was visited.
func (r *Registry) scan(ctx context.Context) (cols map[string]string, complete bool) {
	start := time.Now()
	cols = make(map[string]string)
	complete = true
	defer func() {
		for tag, column := range overrides {
			cols[tag] = column
		}
		r.logger.Info("Fetched detail data columns",
			zap.Int("columns", len(cols)),
			zap.Bool("complete", complete),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	adapters, err := r.accounts.SyncAdapterTypes(ctx)
	if err != nil {
		r.logger.Warn("Failed to list sync adapters", zap.Error(err))
		return cols, false
	}
	syncable := make(map[string]struct{})
	for _, a := range adapters {
		if a.Authority == r.authority {
			syncable[a.AccountType] = struct{}{}
		}
	}

	auths, err := r.accounts.Authenticators(ctx)
	if err != nil {
		r.logger.Warn("Failed to list authenticators", zap.Error(err))
		return cols, false
	}

	for _, auth := range auths {
		if ctx.Err() != nil {
			return cols, false
		}
		if _, ok := syncable[auth.Type]; !ok {
			continue
		}

		kinds, err := r.loadPackage(ctx, auth.Package)
		if err != nil {
			r.logger.Warn("Failed to probe contacts structure",
				zap.String("package", auth.Package),
				zap.Error(err),
			)
			complete = false
			continue
		}
		for tag, column := range kinds {
			cols[tag] = column
		}
	}
	return cols, complete
}

// loadPackage returns the data kinds declared by pkg. A missing, unreadable
// or malformed resource yields no kinds and no error; only transient probe
// failures are returned.
func (r *Registry) loadPackage(ctx context.Context, pkg string) (map[string]string, error) {
	rc, err := r.probe.FindSchemaResource(ctx, pkg, MetadataNames)
	if errors.Is(err, ErrUnreadableResource) {
		r.logger.Warn("Ignoring unreadable contacts structure",
			zap.String("package", pkg),
			zap.Error(err),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()

	kinds, err := ParseDataKinds(rc)
	if err != nil {
		r.logger.Debug("Ignoring malformed contacts structure",
			zap.String("package", pkg),
			zap.Error(err),
		)
		return nil, nil
	}
	return kinds, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

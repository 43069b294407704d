// Package typetag decides which type tags an aggregation pass processes.
package typetag

import (
	"context"
	"sort"

	"contact-aggregator/internal/models"

	"go.uber.org/zap"
)

// Tags the aggregator never turns into entities.
var unsupported = map[string]struct{}{
	models.EventTypeTag:            {},
	models.GroupMembershipTypeTag:  {},
	models.IdentityTypeTag:         {},
	models.ImTypeTag:               {},
	models.NicknameTypeTag:         {},
	models.NoteTypeTag:             {},
	models.OrganizationTypeTag:     {},
	models.PhotoTypeTag:            {},
	models.RelationTypeTag:         {},
	models.SipAddressTypeTag:       {},
	models.StructuredNameTypeTag:   {},
	models.StructuredPostalTypeTag: {},
	models.WebsiteTypeTag:          {},
}

// Tags supported without a registered handler.
var supported = map[string]struct{}{
	models.PhoneTypeTag: {},
	models.EmailTypeTag: {},
}

// TagSource lists the type tags present in the directory.
type TagSource interface {
	DistinctTypeTags(ctx context.Context) ([]string, error)
}

// HandlerChecker reports whether some handler serves a tag.
type HandlerChecker interface {
	HasHandler(ctx context.Context, typeTag string) bool
}

// Provider computes the allowed tag set.
type Provider struct {
	source   TagSource
	handlers HandlerChecker
	policy   *Policy
	logger   *zap.Logger
}

// NewProvider creates a provider. policy may be nil.
func NewProvider(source TagSource, handlers HandlerChecker, policy *Policy, logger *zap.Logger) *Provider {
	return &Provider{
		source:   source,
		handlers: handlers,
		policy:   policy,
		logger:   logger,
	}
}

// IsPossible reports whether tag can produce entities.
func (p *Provider) IsPossible(ctx context.Context, tag string) bool {
	if tag == "" {
		return false
	}
	if _, ok := unsupported[tag]; ok {
		return false
	}
	if _, ok := supported[tag]; ok {
		return true
	}
	return p.handlers.HasHandler(ctx, tag)
}

// PossibleTags returns the sorted possible tags present in the directory.
// A directory failure yields none.
func (p *Provider) PossibleTags(ctx context.Context) []string {
	tags, err := p.source.DistinctTypeTags(ctx)
	if err != nil {
		p.logger.Warn("Failed to list type tags", zap.Error(err))
		return []string{}
	}

	seen := make(map[string]struct{}, len(tags))
	possible := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		if p.IsPossible(ctx, tag) {
			possible = append(possible, tag)
		}
	}
	sort.Strings(possible)
	return possible
}

// AllowedTags returns the possible tags that pass the policy, sorted.
func (p *Provider) AllowedTags(ctx context.Context) []string {
	possible := p.PossibleTags(ctx)
	allowed := possible[:0]
	for _, tag := range possible {
		if p.policy.Allows(tag) {
			allowed = append(allowed, tag)
		}
	}
	return allowed
}

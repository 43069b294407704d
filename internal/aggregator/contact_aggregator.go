// Package aggregator merges the directory's identity, account, nickname and
// data rows into deduplicated contact entities.
package aggregator

import (
	"context"
	"time"

	"contact-aggregator/internal/models"
	"contact-aggregator/internal/normalize"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DirectoryReader reads typed projections of the contacts directory.
type DirectoryReader interface {
	Identities(ctx context.Context) ([]models.IdentityRow, error)
	Accounts(ctx context.Context) ([]models.AccountRow, error)
	Nicknames(ctx context.Context) ([]models.NicknameRow, error)
	Phones(ctx context.Context) ([]models.PhoneRow, error)
	DataRows(ctx context.Context, typeTag, detailColumn string) ([]models.DataRow, error)
}

// HandlerResolver resolves the best handler of a type tag.
type HandlerResolver interface {
	ResolveLabel(ctx context.Context, typeTag string) (string, bool)
	ResolveComponent(ctx context.Context, typeTag string) (models.ComponentID, bool)
}

// DetailColumnResolver resolves the detail column of a type tag.
type DetailColumnResolver interface {
	DetailColumn(ctx context.Context, typeTag string) (string, bool)
}

// AllowedTagsProvider supplies the type tags to process, in processing order.
type AllowedTagsProvider interface {
	AllowedTags(ctx context.Context) []string
}

// ContactAggregator builds contact entities from the directory.
type ContactAggregator struct {
	reader    DirectoryReader
	handlers  HandlerResolver
	columns   DetailColumnResolver
	tags      AllowedTagsProvider
	photoBase string
	logger    *zap.Logger
}

// NewContactAggregator creates an aggregator. photoBase prefixes icon URIs
// built from photo ids.
func NewContactAggregator(
	reader DirectoryReader,
	handlers HandlerResolver,
	columns DetailColumnResolver,
	tags AllowedTagsProvider,
	photoBase string,
	logger *zap.Logger,
) *ContactAggregator {
	return &ContactAggregator{
		reader:    reader,
		handlers:  handlers,
		columns:   columns,
		tags:      tags,
		photoBase: photoBase,
		logger:    logger,
	}
}

// index holds the identity and account lookups of one pass.
type index struct {
	identities map[string]*models.IdentityRecord
	accounts   map[int64]*models.AccountRecord
}

// Aggregate runs one aggregation pass over the allowed tags. A directory that
// cannot be read yields an empty result.
func (a *ContactAggregator) Aggregate(ctx context.Context) []models.ContactEntity {
	return a.AggregateTags(ctx, a.tags.AllowedTags(ctx))
}

// AggregateTags runs one aggregation pass over tags, in order.
func (a *ContactAggregator) AggregateTags(ctx context.Context, tags []string) []models.ContactEntity {
	start := time.Now()
	logger := a.logger.With(zap.String("pass_id", uuid.New().String()))

	idx, ok := a.buildIndex(ctx, logger)
	if !ok {
		return []models.ContactEntity{}
	}

	contacts := []models.ContactEntity{}
	for _, tag := range tags {
		if ctx.Err() != nil {
			logger.Warn("Aggregation cancelled", zap.Error(ctx.Err()))
			return []models.ContactEntity{}
		}

		tagStart := time.Now()
		var entities []models.ContactEntity
		if tag == models.PhoneTypeTag {
			entities = a.phoneContacts(ctx, idx, logger)
		} else {
			entities = a.genericContacts(ctx, tag, idx, logger)
		}
		contacts = append(contacts, entities...)

		logger.Debug("Listed contacts for type tag",
			zap.String("type_tag", tag),
			zap.Int("entities", len(entities)),
			zap.Duration("duration", time.Since(tagStart)),
		)
	}

	logger.Info("Listed contacts",
		zap.Int("identities", len(idx.identities)),
		zap.Int("entities", len(contacts)),
		zap.Duration("duration", time.Since(start)),
	)
	return contacts
}

func (a *ContactAggregator) buildIndex(ctx context.Context, logger *zap.Logger) (*index, bool) {
	identityRows, err := a.reader.Identities(ctx)
	if err != nil {
		logger.Error("Failed to read identities", zap.Error(err))
		return nil, false
	}
	accountRows, err := a.reader.Accounts(ctx)
	if err != nil {
		logger.Error("Failed to read accounts", zap.Error(err))
		return nil, false
	}

	idx := &index{
		identities: make(map[string]*models.IdentityRecord, len(identityRows)),
		accounts:   make(map[int64]*models.AccountRecord, len(accountRows)),
	}
	for _, row := range identityRows {
		idx.identities[row.LookupKey] = &models.IdentityRecord{
			LookupKey:   row.LookupKey,
			ContactID:   row.ContactID,
			DisplayName: row.DisplayName,
			PhotoID:     row.PhotoID,
			PhotoURI:    row.PhotoURI,
		}
	}
	for _, row := range accountRows {
		rec := &models.AccountRecord{RawContactID: row.RawContactID, Starred: row.Starred}
		if row.AccountType != nil {
			rec.AccountType = *row.AccountType
		}
		idx.accounts[row.RawContactID] = rec
	}

	nicknames, err := a.reader.Nicknames(ctx)
	if err != nil {
		logger.Warn("Failed to read nicknames", zap.Error(err))
	}
	for _, row := range nicknames {
		if row.Nickname == nil {
			continue
		}
		if rec, ok := idx.identities[row.LookupKey]; ok && rec.Nickname == nil {
			nick := *row.Nickname
			rec.Nickname = &nick
		}
	}

	return idx, true
}

// join returns the identity and account a row refers to, or false when
// either is missing.
func (idx *index) join(lookupKey string, rawContactID int64) (*models.IdentityRecord, *models.AccountRecord, bool) {
	identity, ok := idx.identities[lookupKey]
	if !ok {
		return nil, nil, false
	}
	account, ok := idx.accounts[rawContactID]
	if !ok {
		return nil, nil, false
	}
	return identity, account, true
}

func (a *ContactAggregator) phoneContacts(ctx context.Context, idx *index, logger *zap.Logger) []models.ContactEntity {
	rows, err := a.reader.Phones(ctx)
	if err != nil {
		logger.Warn("Failed to read phones", zap.Error(err))
		return nil
	}

	groups := newEntityGroups()
	for _, row := range rows {
		identity, account, ok := idx.join(row.LookupKey, row.RawContactID)
		if !ok {
			continue
		}

		phone := ""
		if row.Number != nil {
			phone = *row.Number
		}
		normalized := normalize.SimplifyPhoneNumber(phone)

		entity := models.ContactEntity{
			ID:        models.PhoneEntityID(identity.ContactID, phone),
			LookupKey: row.LookupKey,
			Icon:      identity.Icon(a.photoBase),
			Primary:   row.Primary,
			Starred:   account.Starred,
			Name:      identity.DisplayName,
			Nickname:  identity.Nickname,
			Phone:     &models.Phone{Raw: phone, Normalized: normalized},
		}
		key := normalized.String()
		groups.add(entity, &key)
	}
	return groups.filter()
}

func (a *ContactAggregator) genericContacts(ctx context.Context, tag string, idx *index, logger *zap.Logger) []models.ContactEntity {
	detailColumn, _ := a.columns.DetailColumn(ctx, tag)
	rows, err := a.reader.DataRows(ctx, tag, detailColumn)
	if err != nil {
		logger.Warn("Failed to read type tag rows",
			zap.String("type_tag", tag),
			zap.Error(err),
		)
		return nil
	}

	var component *models.ComponentID
	if c, ok := a.handlers.ResolveComponent(ctx, tag); ok {
		component = &c
	}

	groups := newEntityGroups()
	for _, row := range rows {
		identity, account, ok := idx.join(row.LookupKey, row.RawContactID)
		if !ok {
			continue
		}

		identifier := row.Detail
		if identifier == nil {
			if label, ok := a.handlers.ResolveLabel(ctx, tag); ok {
				identifier = &label
			}
		}
		if identifier == nil {
			identifier = row.Data1
		}

		im := &models.ImData{
			TypeTag:     tag,
			RowID:       row.RowID,
			AccountType: account.AccountType,
			Component:   component,
		}
		if identifier != nil {
			im.Identifier = *identifier
			im.NormalizedIdentifier = normalize.NormalizeWithResult(*identifier, true)
		}

		entity := models.ContactEntity{
			ID:        models.DataEntityID(identity.ContactID, tag, row.RowID),
			LookupKey: row.LookupKey,
			Icon:      identity.Icon(a.photoBase),
			Primary:   row.Primary,
			Starred:   account.Starred,
			Name:      identity.DisplayName,
			Nickname:  identity.Nickname,
			Im:        im,
		}
		groups.add(entity, identifier)
	}
	return groups.filter()
}

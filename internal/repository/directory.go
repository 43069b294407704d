package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"contact-aggregator/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Detail columns must name one of the generic data columns.
var dataColumnPattern = regexp.MustCompile(`^data([1-9]|1[0-5])$`)

// DirectoryRepository reads the contacts directory tables:
//
//	contacts(id, lookup_key, display_name, photo_id, photo_uri)
//	raw_contacts(id, contact_id, account_type, starred)
//	data(id, raw_contact_id, mimetype, is_primary, data1 .. data15)
type DirectoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDirectoryRepository creates a repository over db.
func NewDirectoryRepository(db *sql.DB, logger *zap.Logger) *DirectoryRepository {
	return &DirectoryRepository{
		db:     db,
		logger: logger,
	}
}

// IsDataColumn reports whether column is one of data1 .. data15.
func IsDataColumn(column string) bool {
	return dataColumnPattern.MatchString(column)
}

// Identities returns every contact identity ordered by id.
func (r *DirectoryRepository) Identities(ctx context.Context) ([]models.IdentityRow, error) {
	query := `
		SELECT lookup_key, id, display_name, photo_id, photo_uri
		FROM contacts
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var identities []models.IdentityRow
	for rows.Next() {
		var row models.IdentityRow
		var displayName, photoID, photoURI sql.NullString
		if err := rows.Scan(&row.LookupKey, &row.ContactID, &displayName, &photoID, &photoURI); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		row.DisplayName = nullString(displayName)
		row.PhotoID = nullString(photoID)
		row.PhotoURI = nullString(photoURI)
		identities = append(identities, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}
	return identities, nil
}

// Accounts returns every raw contact with its account type and starred flag.
func (r *DirectoryRepository) Accounts(ctx context.Context) ([]models.AccountRow, error) {
	query := `
		SELECT id, account_type, starred
		FROM raw_contacts
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AccountRow
	for rows.Next() {
		var row models.AccountRow
		var accountType sql.NullString
		var starred sql.NullBool
		if err := rows.Scan(&row.RawContactID, &accountType, &starred); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		row.AccountType = nullString(accountType)
		row.Starred = starred.Valid && starred.Bool
		accounts = append(accounts, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// Nicknames returns nickname rows with the lookup key of their contact.
func (r *DirectoryRepository) Nicknames(ctx context.Context) ([]models.NicknameRow, error) {
	query := `
		SELECT c.lookup_key, d.data1
		FROM data d
		JOIN raw_contacts rc ON rc.id = d.raw_contact_id
		JOIN contacts c ON c.id = rc.contact_id
		WHERE d.mimetype = $1
		ORDER BY d.id
	`

	rows, err := r.db.QueryContext(ctx, query, models.NicknameTypeTag)
	if err != nil {
		return nil, fmt.Errorf("failed to query nicknames: %w", err)
	}
	defer rows.Close()

	var nicknames []models.NicknameRow
	for rows.Next() {
		var row models.NicknameRow
		var nickname sql.NullString
		if err := rows.Scan(&row.LookupKey, &nickname); err != nil {
			return nil, fmt.Errorf("failed to scan nickname: %w", err)
		}
		row.Nickname = nullString(nickname)
		nicknames = append(nicknames, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nicknames: %w", err)
	}
	return nicknames, nil
}

// Phones returns phone rows in row order.
func (r *DirectoryRepository) Phones(ctx context.Context) ([]models.PhoneRow, error) {
	query := `
		SELECT c.lookup_key, d.raw_contact_id, d.data1, d.is_primary
		FROM data d
		JOIN raw_contacts rc ON rc.id = d.raw_contact_id
		JOIN contacts c ON c.id = rc.contact_id
		WHERE d.mimetype = $1
		ORDER BY d.id
	`

	rows, err := r.db.QueryContext(ctx, query, models.PhoneTypeTag)
	if err != nil {
		return nil, fmt.Errorf("failed to query phones: %w", err)
	}
	defer rows.Close()

	var phones []models.PhoneRow
	for rows.Next() {
		var row models.PhoneRow
		var number sql.NullString
		var primary sql.NullInt64
		if err := rows.Scan(&row.LookupKey, &row.RawContactID, &number, &primary); err != nil {
			return nil, fmt.Errorf("failed to scan phone: %w", err)
		}
		row.Number = nullString(number)
		row.Primary = primary.Valid && primary.Int64 != 0
		phones = append(phones, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate phones: %w", err)
	}
	return phones, nil
}

// DataRows returns the rows of typeTag. When detailColumn names a data
// column its value is returned in Detail; an unknown column is ignored.
func (r *DirectoryRepository) DataRows(ctx context.Context, typeTag, detailColumn string) ([]models.DataRow, error) {
	if detailColumn != "" && !IsDataColumn(detailColumn) {
		r.logger.Warn("Ignoring unknown detail column",
			zap.String("type_tag", typeTag),
			zap.String("detail_column", detailColumn),
		)
		detailColumn = ""
	}

	// data1 is always selected; only another column needs its own slot
	extra := detailColumn != "" && detailColumn != "data1"
	detailSelect := ""
	if extra {
		detailSelect = ", d." + pq.QuoteIdentifier(detailColumn)
	}

	query := `
		SELECT c.lookup_key, d.raw_contact_id, d.id, d.data1, d.is_primary` + detailSelect + `
		FROM data d
		JOIN raw_contacts rc ON rc.id = d.raw_contact_id
		JOIN contacts c ON c.id = rc.contact_id
		WHERE d.mimetype = $1
		ORDER BY d.id
	`

	rows, err := r.db.QueryContext(ctx, query, typeTag)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows of %s: %w", typeTag, err)
	}
	defer rows.Close()

	var result []models.DataRow
	for rows.Next() {
		var row models.DataRow
		var data1, detail sql.NullString
		var primary sql.NullInt64
		dest := []interface{}{&row.LookupKey, &row.RawContactID, &row.RowID, &data1, &primary}
		if extra {
			dest = append(dest, &detail)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", typeTag, err)
		}
		row.Data1 = nullString(data1)
		row.Primary = primary.Valid && primary.Int64 != 0
		switch {
		case extra:
			row.Detail = nullString(detail)
		case detailColumn == "data1":
			row.Detail = row.Data1
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows of %s: %w", typeTag, err)
	}
	return result, nil
}

// DistinctTypeTags returns every type tag present in the data table.
func (r *DirectoryRepository) DistinctTypeTags(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT mimetype FROM data WHERE mimetype IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query type tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan type tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate type tags: %w", err)
	}
	return tags, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

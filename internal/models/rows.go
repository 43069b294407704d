package models

// Row projections of the directory, one struct per query shape.

// IdentityRow is a row of the identity scan.
type IdentityRow struct {
	LookupKey   string
	ContactID   int64
	DisplayName *string
	PhotoID     *string
	PhotoURI    *string
}

// AccountRow is a row of the raw-account scan.
type AccountRow struct {
	RawContactID int64
	AccountType  *string
	Starred      bool
}

// NicknameRow is a row of the nickname scan.
type NicknameRow struct {
	LookupKey string
	Nickname  *string
}

// PhoneRow is a row of the phone scan.
type PhoneRow struct {
	LookupKey    string
	RawContactID int64
	Number       *string
	Primary      bool
}

// DataRow is a row of a generic type tag scan. Detail holds the value of the
// tag's detail column, or nil when the tag has none.
type DataRow struct {
	LookupKey    string
	RawContactID int64
	RowID        int64
	Data1        *string
	Primary      bool
	Detail       *string
}

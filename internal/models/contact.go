package models

import (
	"strconv"
	"strings"

	"contact-aggregator/internal/normalize"
)

// Well-known type tags.
const (
	PhoneTypeTag            = "vnd.android.cursor.item/phone_v2"
	EmailTypeTag            = "vnd.android.cursor.item/email_v2"
	NicknameTypeTag         = "vnd.android.cursor.item/nickname"
	EventTypeTag            = "vnd.android.cursor.item/contact_event"
	GroupMembershipTypeTag  = "vnd.android.cursor.item/group_membership"
	IdentityTypeTag         = "vnd.android.cursor.item/identity"
	ImTypeTag               = "vnd.android.cursor.item/im"
	NoteTypeTag             = "vnd.android.cursor.item/note"
	OrganizationTypeTag     = "vnd.android.cursor.item/organization"
	PhotoTypeTag            = "vnd.android.cursor.item/photo"
	RelationTypeTag         = "vnd.android.cursor.item/relation"
	SipAddressTypeTag       = "vnd.android.cursor.item/sip_address"
	StructuredNameTypeTag   = "vnd.android.cursor.item/name"
	StructuredPostalTypeTag = "vnd.android.cursor.item/postal-address_v2"
	WebsiteTypeTag          = "vnd.android.cursor.item/website"
)

// EntityScheme prefixes every ContactEntity id.
const EntityScheme = "contact://"

// IdentityRecord is one row of the identity scan, keyed by LookupKey.
type IdentityRecord struct {
	LookupKey   string
	ContactID   int64
	DisplayName *string
	PhotoID     *string
	PhotoURI    *string
	Nickname    *string // patched once after the nickname scan
}

// Icon returns the photo URI when set, else a URI built from the photo id under
// photoBase, else nil.
func (r *IdentityRecord) Icon(photoBase string) *string {
	if r.PhotoURI != nil && *r.PhotoURI != "" {
		icon := *r.PhotoURI
		return &icon
	}
	if r.PhotoID != nil && *r.PhotoID != "" {
		icon := strings.TrimSuffix(photoBase, "/") + "/" + *r.PhotoID
		return &icon
	}
	return nil
}

// AccountRecord is one raw-account row, keyed by RawContactID.
type AccountRecord struct {
	RawContactID int64
	AccountType  string
	Starred      bool
}

// ComponentID identifies a handler component inside a package.
type ComponentID struct {
	Package string `json:"package"`
	Class   string `json:"class"`
}

// String returns "package/class".
func (c ComponentID) String() string {
	return c.Package + "/" + c.Class
}

// Phone is the phone payload of a ContactEntity.
type Phone struct {
	Raw        string           `json:"raw"`
	Normalized normalize.Result `json:"normalized"`
}

// ImData is the payload of a ContactEntity built from a generic type tag row.
type ImData struct {
	TypeTag              string           `json:"type_tag"`
	RowID                int64            `json:"row_id"`
	AccountType          string           `json:"account_type"`
	Component            *ComponentID     `json:"component,omitempty"`
	Identifier           string           `json:"identifier"`
	NormalizedIdentifier normalize.Result `json:"normalized_identifier"`
}

// ContactEntity is one communication method of one contact. A contact with N
// methods yields N entities sharing LookupKey.
type ContactEntity struct {
	ID        string  `json:"id"`
	LookupKey string  `json:"lookup_key"`
	Icon      *string `json:"icon,omitempty"`
	Primary   bool    `json:"primary"`
	Starred   bool    `json:"starred"`
	Name      *string `json:"name"`
	Nickname  *string `json:"nickname,omitempty"`
	Phone     *Phone  `json:"phone,omitempty"`
	Im        *ImData `json:"im,omitempty"`
}

// PhoneEntityID builds the id of a phone entity.
func PhoneEntityID(contactID int64, phone string) string {
	return EntityScheme + strconv.FormatInt(contactID, 10) + "/" + phone
}

// DataEntityID builds the id of a generic type tag entity.
func DataEntityID(contactID int64, typeTag string, rowID int64) string {
	return EntityScheme + strconv.FormatInt(contactID, 10) + "/" + typeTag + "/" + strconv.FormatInt(rowID, 10)
}

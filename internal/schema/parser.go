package schema

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

const (
	dataKindElement  = "ContactsDataKind"
	attrMimeType     = "mimeType"
	attrDetailColumn = "detailColumn"
)

// ParseDataKinds reads a contacts structure document and returns the
// mimeType -> detailColumn pairs of its ContactsDataKind elements. Attributes
// match by local name, so android:mimeType and mimeType are equivalent. A
// kind without detailColumn maps to "". Later declarations win.
func ParseDataKinds(r io.Reader) (map[string]string, error) {
	kinds := make(map[string]string)
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return kinds, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse contacts structure: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != dataKindElement {
			continue
		}

		var mimeType, detailColumn *string
		for i := range start.Attr {
			attr := start.Attr[i]
			switch attr.Name.Local {
			case attrMimeType:
				mimeType = &attr.Value
			case attrDetailColumn:
				detailColumn = &attr.Value
			}
		}
		if mimeType == nil {
			continue
		}
		if detailColumn != nil {
			kinds[*mimeType] = *detailColumn
		} else {
			kinds[*mimeType] = ""
		}
	}
}

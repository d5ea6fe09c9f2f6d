package exchange

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Properties is one search result row. A nil value means the server did
// not return the property; a pointer to "" means it was returned empty.
type Properties map[string]*string

// Get returns the value for name, or nil if absent.
func (p Properties) Get(name string) *string {
	return p[name]
}

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Href     string     `xml:"DAV: href"`
	Propstat []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Status string `xml:"DAV: status"`
	Prop   *prop  `xml:"DAV: prop"`
}

type prop struct {
	Fields []field `xml:",any"`
}

type field struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

// parseSearchResponse decodes a multistatus body into one Properties per
// item, in document order.
func parseSearchResponse(data []byte) ([]Properties, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Entity = xml.HTMLEntity

	var ms multistatus
	if err := decoder.Decode(&ms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	items := make([]Properties, 0, len(ms.Responses))
	for i, r := range ms.Responses {
		props, ok := r.properties()
		if !ok {
			return nil, fmt.Errorf("%w: item %d (%s) has no property container", ErrMalformedResponse, i, r.Href)
		}
		items = append(items, props)
	}
	return items, nil
}

// properties merges the containers of every successful propstat.
// Properties reported under a failed propstat count as absent.
func (r response) properties() (Properties, bool) {
	found := false
	props := Properties{}
	for _, ps := range r.Propstat {
		if ps.Prop == nil {
			continue
		}
		found = true
		if !ps.ok() {
			continue
		}
		for _, f := range ps.Prop.Fields {
			v := f.Value
			props[f.XMLName.Local] = &v
		}
	}
	return props, found
}

// ok reports whether the propstat status line is a 2xx. A missing status
// counts as success.
func (ps propstat) ok() bool {
	if strings.TrimSpace(ps.Status) == "" {
		return true
	}
	parts := strings.Fields(ps.Status)
	if len(parts) < 2 {
		return false
	}
	code, err := strconv.Atoi(parts[1])
	return err == nil && code >= 200 && code <= 299
}

package exchange

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// InstanceType is the value of urn:schemas:calendar:instancetype.
type InstanceType int

const (
	InstanceSingle     InstanceType = 0
	InstanceMaster     InstanceType = 1
	InstanceOccurrence InstanceType = 2
	InstanceException  InstanceType = 3
)

// AppointmentClass is the DAV content class of calendar appointments.
const AppointmentClass = "urn:content-classes:appointment"

// Column selects Property under the result element name Alias.
type Column struct {
	Property string
	Alias    string
}

// Result element names of the calendar search.
const (
	FieldLocation    = "location"
	FieldSubject     = "subject"
	FieldStart       = "start_date"
	FieldEnd         = "end_date"
	FieldTimezone    = "timezone_info"
	FieldOrganizer   = "organizer"
	FieldStatus      = "status"
	FieldBusyStatus  = "busy_status"
	FieldDescription = "description"
)

// CalendarColumns are the properties fetched for every appointment.
var CalendarColumns = []Column{
	{Property: "urn:schemas:calendar:location", Alias: FieldLocation},
	{Property: "urn:schemas:httpmail:normalizedsubject", Alias: FieldSubject},
	{Property: "urn:schemas:calendar:dtstart", Alias: FieldStart},
	{Property: "urn:schemas:calendar:dtend", Alias: FieldEnd},
	{Property: "urn:schemas:calendar:timezone", Alias: FieldTimezone},
	{Property: "urn:schemas:calendar:organizer", Alias: FieldOrganizer},
	{Property: "urn:schemas:calendar:meetingstatus", Alias: FieldStatus},
	{Property: "urn:schemas:calendar:busystatus", Alias: FieldBusyStatus},
	{Property: "urn:schemas:httpmail:textdescription", Alias: FieldDescription},
}

// Query is an Exchange SQL search over one folder.
type Query struct {
	Columns []Column

	// Scope is the unescaped folder path searched with a shallow traversal.
	Scope string

	// ExcludeInstance drops items of this instance type.
	ExcludeInstance InstanceType
	ContentClass    string

	// OrderBy is the property results are sorted on, ascending.
	OrderBy string
}

// CalendarQuery returns the appointment search for folder under the
// mailbox of user. Recurrence masters are excluded so each occurrence is
// returned on its own.
func CalendarQuery(root, user, folder string) Query {
	return Query{
		Columns:         CalendarColumns,
		Scope:           "/" + root + "/" + url.PathEscape(user) + "/" + folder + "/",
		ExcludeInstance: InstanceMaster,
		ContentClass:    AppointmentClass,
		OrderBy:         "urn:schemas:calendar:dtstart",
	}
}

// SQL renders the query text.
func (q Query) SQL() string {
	var b strings.Builder

	b.WriteString("SELECT ")
	for i, c := range q.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s AS %s", quoteIdent(c.Property), c.Alias)
	}

	scope := fmt.Sprintf("SHALLOW TRAVERSAL OF %s", quoteIdent(q.Scope))
	fmt.Fprintf(&b, " FROM Scope(%s)", quoteLiteral(scope))

	fmt.Fprintf(&b, " WHERE NOT %s = %d AND %s = %s",
		quoteIdent("urn:schemas:calendar:instancetype"), q.ExcludeInstance,
		quoteIdent("DAV:contentclass"), quoteLiteral(q.ContentClass))

	if q.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s ASC", quoteIdent(q.OrderBy))
	}
	return b.String()
}

type searchRequest struct {
	XMLName xml.Name `xml:"g:searchrequest"`
	NS      string   `xml:"xmlns:g,attr"`
	SQL     string   `xml:"g:sql"`
}

// Body renders the DAV searchrequest document carrying the query.
func (q Query) Body() ([]byte, error) {
	out, err := xml.Marshal(searchRequest{NS: "DAV:", SQL: q.SQL()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

package sync

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Source wraps a parsed JSON document and exposes path-based lookups.
// Mapping paths support gjson syntax including modifiers (e.g. "@phone:55").
type Source struct {
	data gjson.Result
}

// NewSource parses raw JSON into a Source.
func NewSource(json string) Source {
	return Source{data: gjson.Parse(json)}
}

func (s Source) StringForPath(path string) (string, bool) {
	result := s.data.Get(path)
	return result.String(), result.Exists() && (result.Value() != nil)
}

func (s Source) IntForPath(path string) (int64, bool) {
	result := s.data.Get(path)
	return result.Int(), result.Exists() && (result.Value() != nil)
}

func (s Source) BoolForPath(path string) (bool, bool) {
	result := s.data.Get(path)
	return result.Bool(), result.Exists() && (result.Value() != nil)
}

func (s Source) Raw() string {
	return s.data.Raw
}

// SourceRecord is a participant or order as received from Sympla.
// OrderID is the dedup key for polling runs; it may be empty on
// participant-level webhook records.
type SourceRecord struct {
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	Company      string
	FleetSize    string
	OrderID      string
	EventID      string
	CustomFields map[string]string
	Source       Source
}

// NormalizedEmail returns the email trimmed and lowercased.
// A record whose normalized email is empty is never submitted to HubSpot.
func (r SourceRecord) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(r.Email))
}

// CustomField looks up a custom form answer by its normalized token.
func (r SourceRecord) CustomField(token string) string {
	return r.CustomFields[NormalizeCustomFieldToken(token)]
}

// NormalizeCustomFieldToken lowercases a token and replaces spaces with
// underscores. Lookups are exact matches against normalized tokens.
func NormalizeCustomFieldToken(token string) string {
	return strings.ReplaceAll(strings.ToLower(token), " ", "_")
}

// ParticipantRecordFromSource builds a SourceRecord from a Sympla
// participant object.
func ParticipantRecordFromSource(source Source, eventID string) SourceRecord {
	result := SourceRecord{
		EventID:      eventID,
		CustomFields: make(map[string]string),
		Source:       source,
	}
	result.Email, _ = source.StringForPath("email")
	result.FirstName, _ = source.StringForPath("first_name")
	result.LastName, _ = source.StringForPath("last_name")
	result.Phone, _ = source.StringForPath("phone_number")
	result.Company, _ = source.StringForPath("company")
	result.FleetSize, _ = source.StringForPath("fleet_size")
	result.OrderID, _ = source.StringForPath("order_id")

	answers := source.data.Get("custom_form_answers")
	if answers.IsArray() {
		for _, answer := range answers.Array() {
			token := NormalizeCustomFieldToken(answer.Get("token").String())
			if token == "" {
				continue
			}
			result.CustomFields[token] = answer.Get("value").String()
		}
	}
	return result
}

// BuyerRecordFromOrder synthesizes a SourceRecord from buyer-level order
// fields. Used when an order carries no explicit participant records and for
// records produced by the polling path, where the orders listing only exposes
// the buyer.
func BuyerRecordFromOrder(order Source, eventID string) SourceRecord {
	result := SourceRecord{
		EventID:      eventID,
		CustomFields: make(map[string]string),
		Source:       order,
	}
	result.Email, _ = order.StringForPath("buyer_email")
	result.FirstName, _ = order.StringForPath("buyer_first_name")
	result.LastName, _ = order.StringForPath("buyer_last_name")
	result.Phone, _ = order.StringForPath("buyer_phone")
	result.OrderID = order.data.Get("id").String()
	return result
}

// EventContext is optional metadata about the originating Sympla event.
// Name may be empty when the event lookup fails or no event id is known.
type EventContext struct {
	ID   string
	Name string
}

// ContactProperties is the flat property set submitted to HubSpot.
type ContactProperties map[string]string

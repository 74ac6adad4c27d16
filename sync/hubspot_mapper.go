package sync

import (
	"fmt"
	"log"
	"strings"
)

// HubSpot contact property names populated by the builtin mapping chain.
const (
	PropEmail            = "email"
	PropFullName         = "mkt_nome_completo"
	PropCompany          = "company_name"
	PropPhone            = "mkt_telefone"
	PropFleetSize        = "qual_o_tamanho_da_sua_frota_"
	PropLeadTrigger      = "lm_ou_dm"
	PropConversionSource = "ultima_fonte_conversao"
)

// LeadTriggerMarketing marks contacts that arrived through the event channel.
const LeadTriggerMarketing = "LM"

// PollingConversionFallback labels the conversion source when a polling run
// has no event name available.
const PollingConversionFallback = "Sympla"

// SyncMode distinguishes the two ingestion paths. Webhook syncs are
// authoritative full writes that keep empty values, polling syncs are
// additive partial updates that strip them.
type SyncMode int

const (
	ModeWebhook SyncMode = iota
	ModePolling
)

func (m SyncMode) String() string {
	if m == ModePolling {
		return "polling"
	}
	return "webhook"
}

// HubSpotContact accumulates mapped property values before submission.
// It implements Mappable so configured extra mappings can be merged in.
type HubSpotContact struct {
	Fields map[string]interface{}
}

func (c *HubSpotContact) GetFields() map[string]interface{} { return c.Fields }

func (c *HubSpotContact) SetField(key string, value interface{}) { c.Fields[key] = value }

func (c *HubSpotContact) DeleteField(key string) { delete(c.Fields, key) }

// AsProperties flattens the accumulated fields into the string property set
// HubSpot accepts. Nil values (unresolved mapping paths) are always dropped.
// Empty strings survive only in webhook mode.
func (c *HubSpotContact) AsProperties(mode SyncMode) ContactProperties {
	result := make(ContactProperties, len(c.Fields))
	for k, v := range c.Fields {
		if v == nil {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if s == "" && mode == ModePolling {
			continue
		}
		result[k] = s
	}
	return result
}

// ContactMapper converts source records into HubSpot contact properties.
// MapContact is pure: no I/O, identical inputs yield identical output, and
// missing fields resolve to empty strings rather than errors.
type ContactMapper struct {
	ExtraMappings FieldMappings
	Transforms    map[string]string
}

func NewContactMapper(config Config) *ContactMapper {
	return &ContactMapper{
		ExtraMappings: config.ExtraFieldMappings,
		Transforms:    config.FieldTransforms,
	}
}

// MapContact builds the property set for one record.
//
// Resolution order per property, first non-empty wins:
//   - full name: custom "nome", else first+last trimmed
//   - company: company attribute, else custom "nome_da_empresa"
//   - phone: phone attribute, else custom "telefone"
//   - fleet size: custom "qual_o_tamanho_da_frota_", else custom
//     "tamanho_da_frota", else the fleet_size attribute
//   - lead trigger: fixed "LM" on webhook syncs; on polling syncs read from
//     the upstream-populated "lm_ou_dm" custom field when present
//   - conversion source: event name; polling falls back to "Sympla"
func (m *ContactMapper) MapContact(rec SourceRecord, event EventContext, mode SyncMode) ContactProperties {
	contact := &HubSpotContact{Fields: make(map[string]interface{})}

	fullName := strings.TrimSpace(rec.CustomField("nome"))
	if fullName == "" {
		fullName = strings.TrimSpace(rec.FirstName + " " + rec.LastName)
	}

	company := rec.Company
	if company == "" {
		company = rec.CustomField("nome_da_empresa")
	}

	phone := rec.Phone
	if phone == "" {
		phone = rec.CustomField("telefone")
	}

	fleet := rec.CustomField("qual_o_tamanho_da_frota_")
	if fleet == "" {
		fleet = rec.CustomField("tamanho_da_frota")
	}
	if fleet == "" {
		fleet = rec.FleetSize
	}

	leadTrigger := LeadTriggerMarketing
	if mode == ModePolling {
		if v := rec.CustomField("lm_ou_dm"); v != "" {
			leadTrigger = v
		}
	}

	conversionSource := event.Name
	if conversionSource == "" && mode == ModePolling {
		conversionSource = PollingConversionFallback
	}

	contact.SetField(PropEmail, rec.NormalizedEmail())
	contact.SetField(PropFullName, fullName)
	contact.SetField(PropCompany, company)
	contact.SetField(PropPhone, phone)
	contact.SetField(PropFleetSize, fleet)
	contact.SetField(PropLeadTrigger, leadTrigger)
	contact.SetField(PropConversionSource, conversionSource)

	MapFields(m.ExtraMappings, rec.Source, contact)
	if err := ApplyFieldTransforms(m.Transforms, contact); err != nil {
		// a misconfigured transform must not fail the record
		log.Printf("Warning: field transforms not applied: %v", err)
		contact.DeleteFailedTransformFields(m.Transforms)
	}

	return contact.AsProperties(mode)
}

// DeleteFailedTransformFields removes fields whose transforms reference
// unknown functions so a bad config entry cannot submit half-transformed
// values.
func (c *HubSpotContact) DeleteFailedTransformFields(transforms map[string]string) {
	for field := range transforms {
		c.DeleteField(field)
	}
}

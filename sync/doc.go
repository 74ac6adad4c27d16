package sync

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
)

// FieldDocRow represents a single row in the field mapping documentation.
type FieldDocRow struct {
	Property   string // HubSpot internal property name
	Label      string // Display label derived from the property name
	IsBuiltin  bool   // Part of the fixed mapping chain
	FieldType  string // HubSpot property type label
	SourcePath string // Sympla source (attribute chain or gjson path)
	Notes      string // Precedence and transform notes
}

// FieldDocumentation lists every property the sync can write, builtin chain
// first then configured extras.
type FieldDocumentation struct {
	Rows []FieldDocRow
}

// builtinFieldDocRows documents the fixed precedence chains applied to every
// record before extra mappings.
func builtinFieldDocRows() []FieldDocRow {
	return []FieldDocRow{
		{Property: PropEmail, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "email", Notes: "Trimmed and lowercased; records without it are skipped"},
		{Property: PropFullName, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "custom nome → first_name + last_name"},
		{Property: PropCompany, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "company → custom nome_da_empresa"},
		{Property: PropPhone, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "phone_number → custom telefone"},
		{Property: PropFleetSize, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "custom qual_o_tamanho_da_frota_ → custom tamanho_da_frota → fleet_size"},
		{Property: PropLeadTrigger, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "(computed)", Notes: `Fixed "LM" on webhook syncs; custom lm_ou_dm on polling syncs`},
		{Property: PropConversionSource, IsBuiltin: true, FieldType: "Single-line text",
			SourcePath: "(event name)", Notes: `Polling syncs fall back to "Sympla"`},
	}
}

// GenerateFieldDocumentation builds the documentation for a configuration.
func GenerateFieldDocumentation(config Config) FieldDocumentation {
	doc := FieldDocumentation{}
	doc.Rows = append(doc.Rows, builtinFieldDocRows()...)

	extras := config.ExtraFieldMappings
	groups := []map[string]string{extras.Strings, extras.Texts, extras.Integers, extras.Booleans, extras.Timestamps}
	for _, group := range groups {
		for _, property := range sortedKeys(group) {
			sourcePath, transforms := parseSourcePath(group[property])
			notes := []string{}
			for _, t := range transforms {
				notes = append(notes, fmt.Sprintf("Uses %s modifier", t))
			}
			if transform, exists := config.FieldTransforms[property]; exists {
				notes = append(notes, fmt.Sprintf("Transform: %s", transform))
			}
			doc.Rows = append(doc.Rows, FieldDocRow{
				Property:   property,
				FieldType:  extras.AsHubSpotFieldType(property),
				SourcePath: sourcePath,
				Notes:      strings.Join(notes, " | "),
			})
		}
	}

	for i := range doc.Rows {
		doc.Rows[i].Label = propertyLabel(doc.Rows[i].Property)
	}
	return doc
}

// propertyLabel derives a display label from a HubSpot internal property
// name, e.g. "mkt_nome_completo" -> "Mkt Nome Completo".
func propertyLabel(property string) string {
	parts := strings.Split(strings.Trim(property, "_"), "_")
	for i, s := range parts {
		parts[i] = strcase.ToCamel(s)
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSourcePath splits a mapping value into the gjson path and any
// modifiers, e.g. `phone_number|@phone:55` -> ("phone_number", ["@phone:55"]).
// Backtick-quoted static strings are reported as such.
func parseSourcePath(value string) (string, []string) {
	if value == "" {
		return "(computed)", nil
	}
	if len(value) >= 2 && value[0] == '`' && value[len(value)-1] == '`' {
		return fmt.Sprintf("(static %q)", value[1:len(value)-1]), nil
	}

	parts := strings.Split(value, "|")
	sourcePath := parts[0]
	var modifiers []string
	for i := 1; i < len(parts); i++ {
		if strings.HasPrefix(parts[i], "@") {
			modifiers = append(modifiers, parts[i])
		}
	}
	return sourcePath, modifiers
}

// FormatCSV formats the field documentation as CSV.
func (d FieldDocumentation) FormatCSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"HubSpot Property", "Label", "Built-in", "HubSpot Field Type", "Sympla Source", "Notes"}
	if err := writer.Write(headers); err != nil {
		return "", err
	}

	for _, row := range d.Rows {
		builtinMark := ""
		if row.IsBuiltin {
			builtinMark = "yes"
		}
		record := []string{row.Property, row.Label, builtinMark, row.FieldType, row.SourcePath, row.Notes}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

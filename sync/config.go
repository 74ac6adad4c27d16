package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/config"
)

type Config struct {
	API                APISettings
	Webhook            WebhookSettings
	CRM                CRMSettings
	Scheduler          SchedulerSettings
	Server             ServerSettings
	Ledger             LedgerSettings
	ExtraFieldMappings FieldMappings
	FieldTransforms    map[string]string
}

type APISettings struct {
	Keys struct {
		Sympla  string
		HubSpot string
	}
	Endpoints struct {
		Sympla  string
		HubSpot string
	}
}

type WebhookSettings struct {
	// Secret is the shared HMAC secret for webhook signatures.
	// An empty secret disables signature checking (unsafe in production).
	Secret string
}

type CRMSettings struct {
	// Strategy selects the upsert strategy: "find-then-write" (default)
	// or "native-upsert".
	Strategy           string
	DefaultPhoneRegion string `yaml:"defaultPhoneRegion"`
}

type SchedulerSettings struct {
	// EventID is the Sympla event whose orders are scanned by polling runs.
	// Polling is disabled when empty.
	EventID             string `yaml:"eventId"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds"`
	ThrottleDelayMillis int    `yaml:"throttleDelayMillis"`
}

func (s SchedulerSettings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SchedulerSettings) ThrottleDelay() time.Duration {
	return time.Duration(s.ThrottleDelayMillis) * time.Millisecond
}

type ServerSettings struct {
	Port int
}

type LedgerSettings struct {
	Path        string
	PostgresDSN string `yaml:"postgresDsn"`
}

// FieldMappings holds operator-configured extra mappings from Sympla source
// paths to HubSpot properties, grouped by property value type. HubSpot
// submits all property values as strings so non-string groups are formatted
// on mapping.
type FieldMappings struct {
	Strings    map[string]string
	Texts      map[string]string
	Integers   map[string]string
	Booleans   map[string]string
	Timestamps map[string]string
}

func (m FieldMappings) AllKeys() []string {
	var result []string
	result = append(result, FieldMapsKeys(m.Strings)...)
	result = append(result, FieldMapsKeys(m.Texts)...)
	result = append(result, FieldMapsKeys(m.Integers)...)
	result = append(result, FieldMapsKeys(m.Booleans)...)
	result = append(result, FieldMapsKeys(m.Timestamps)...)
	return result
}

func (m FieldMappings) AllValues() []string {
	var result []string
	result = append(result, FieldMapsValues(m.Strings)...)
	result = append(result, FieldMapsValues(m.Texts)...)
	result = append(result, FieldMapsValues(m.Integers)...)
	result = append(result, FieldMapsValues(m.Booleans)...)
	result = append(result, FieldMapsValues(m.Timestamps)...)
	return result
}

// AsHubSpotFieldType returns a display label for the property type of a
// mapped key, used by the field documentation generator.
func (m FieldMappings) AsHubSpotFieldType(key string) string {
	if m.Strings != nil {
		if _, exists := m.Strings[key]; exists {
			return "Single-line text"
		}
	}
	if m.Texts != nil {
		if _, exists := m.Texts[key]; exists {
			return "Multi-line text"
		}
	}
	if m.Integers != nil {
		if _, exists := m.Integers[key]; exists {
			return "Number"
		}
	}
	if m.Booleans != nil {
		if _, exists := m.Booleans[key]; exists {
			return "Single checkbox"
		}
	}
	if m.Timestamps != nil {
		if _, exists := m.Timestamps[key]; exists {
			return "Date picker"
		}
	}
	return "Unknown"
}

func FieldMapsKeys(m map[string]string) []string {
	result := make([]string, len(m))
	i := 0
	for k := range m {
		result[i] = k
		i++
	}
	return result
}

func FieldMapsValues(m map[string]string) []string {
	result := make([]string, len(m))
	i := 0
	for _, v := range m {
		result[i] = v
		i++
	}
	return result
}

type ConfigUnmarshaler interface {
	Unmarshal(compev CompositeEnvVar, sources ...MappingFile) (Config, error)
}

type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// OSEnvVar resolves config expansion variables from the process environment.
type OSEnvVar struct{}

func (OSEnvVar) LookupEnv(child string) (string, bool) {
	return os.LookupEnv(child)
}

// JSONCompositeEnvVar resolves config expansion variables from a single
// parent environment variable containing a JSON object, for deployments that
// only allow one secret value per service.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if c.Parent != "" {
		s := os.Getenv(c.Parent)
		if s != "" {
			m := make(map[string]string)
			err := json.Unmarshal([]byte(s), &m)
			if err == nil {
				v, exists := m[child]
				return v, exists
			}
		}
	}
	return "", false
}

type YAMLConfigUnmarshaler struct{}

func (u YAMLConfigUnmarshaler) Unmarshal(compev CompositeEnvVar, sources ...MappingFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	options = append(options, config.Expand(compev.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}
	key := "api"
	err = yaml.Get(key).Populate(&result.API)
	if err != nil {
		return result, readError(key, err)
	}
	key = "webhook"
	err = yaml.Get(key).Populate(&result.Webhook)
	if err != nil {
		return result, readError(key, err)
	}
	key = "crm"
	err = yaml.Get(key).Populate(&result.CRM)
	if err != nil {
		return result, readError(key, err)
	}
	key = "scheduler"
	err = yaml.Get(key).Populate(&result.Scheduler)
	if err != nil {
		return result, readError(key, err)
	}
	key = "server"
	err = yaml.Get(key).Populate(&result.Server)
	if err != nil {
		return result, readError(key, err)
	}
	key = "ledger"
	err = yaml.Get(key).Populate(&result.Ledger)
	if err != nil {
		return result, readError(key, err)
	}
	key = "extraFieldMappings"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.ExtraFieldMappings)
		if err != nil {
			return result, readError(key, err)
		}
	}
	key = "fieldTransforms"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.FieldTransforms)
		if err != nil {
			return result, readError(key, err)
		}
	}

	return result, nil
}

// LoadConfig layers the embedded defaults under an optional override file
// and expands environment references via compev.
func LoadConfig(compev CompositeEnvVar, overridePath string) (Config, error) {
	var result Config
	defaults, err := Mappings.MustFindDefaultsMappingFile()
	if err != nil {
		return result, err
	}
	sources := []MappingFile{defaults}
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return result, fmt.Errorf("failed to read config override %s %w", overridePath, err)
		}
		sources = append(sources, MappingFile{
			Name:   overridePath,
			Reader: bytes.NewReader(data),
			Length: len(data),
		})
	}
	return YAMLConfigUnmarshaler{}.Unmarshal(compev, sources...)
}

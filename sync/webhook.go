package sync

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidSignature rejects a webhook request whose HMAC does not match.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload rejects a webhook body that is not valid JSON or
	// does not satisfy the payload schema.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// IgnoredEventTypeError is returned for webhook event types that are not
// synchronized. It is an explicit no-op, not a failure.
type IgnoredEventTypeError struct {
	Type string
}

func (e IgnoredEventTypeError) Error() string {
	return fmt.Sprintf("ignored webhook event type %q", e.Type)
}

// RecognizedEventTypes are the Sympla webhook event types that trigger a sync.
var RecognizedEventTypes = []string{
	"order.approved",
	"participant.confirmed",
	"order.completed",
}

func IsRecognizedEventType(eventType string) bool {
	for _, t := range RecognizedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// ValidateWebhookSignature checks the HMAC-SHA256 hex signature supplied in
// the X-Sympla-Signature header against the raw request body. An empty
// secret bypasses the check entirely (unsafe outside development).
func ValidateWebhookSignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

var (
	webhookSchemaOnce gosync.Once
	webhookSchema     *jsonschema.Schema
	webhookSchemaErr  error
)

func compiledWebhookSchema() (*jsonschema.Schema, error) {
	webhookSchemaOnce.Do(func() {
		file, err := Mappings.MustFindWebhookSchemaFile()
		if err != nil {
			webhookSchemaErr = err
			return
		}
		doc, err := jsonschema.UnmarshalJSON(file.Reader)
		if err != nil {
			webhookSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(file.Name, doc); err != nil {
			webhookSchemaErr = err
			return
		}
		webhookSchema, webhookSchemaErr = compiler.Compile(file.Name)
	})
	return webhookSchema, webhookSchemaErr
}

// WebhookEvent is one validated webhook delivery: the gating event type plus
// the source records it carries.
type WebhookEvent struct {
	Type    string
	EventID string
	Records []SourceRecord
}

// ParseWebhookPayload validates body against the embedded payload schema and
// extracts the source records. When the order carries no participant records
// a single record is synthesized from the buyer fields.
func ParseWebhookPayload(body []byte) (WebhookEvent, error) {
	var result WebhookEvent

	if !gjson.ValidBytes(body) {
		return result, ErrMalformedPayload
	}

	// the type gate runs before schema validation: an unrecognized type is
	// an explicit no-op whatever the rest of the payload looks like
	payload := gjson.ParseBytes(body)
	result.Type = payload.Get("type").String()
	if result.Type != "" && !IsRecognizedEventType(result.Type) {
		return result, IgnoredEventTypeError{Type: result.Type}
	}

	schema, err := compiledWebhookSchema()
	if err != nil {
		return result, fmt.Errorf("webhook schema unavailable %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return result, ErrMalformedPayload
	}
	if err := schema.Validate(instance); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	order := Source{data: payload.Get("data")}
	result.EventID = order.data.Get("event_id").String()

	participants := order.data.Get("participants")
	if participants.IsArray() && len(participants.Array()) > 0 {
		for _, p := range participants.Array() {
			result.Records = append(result.Records, ParticipantRecordFromSource(Source{data: p}, result.EventID))
		}
		return result, nil
	}

	result.Records = append(result.Records, BuyerRecordFromOrder(order, result.EventID))
	return result, nil
}

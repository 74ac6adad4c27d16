package sync

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// HubSpotError is the error body HubSpot returns on non-2xx responses.
type HubSpotError struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
	Category      string `json:"category"`
}

func (e HubSpotError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// HubSpotFetcherAndUpdater handles all HubSpot API operations.
// It embeds *SyncContext for shared sync configuration.
type HubSpotFetcherAndUpdater struct {
	*SyncContext
}

// HubSpotAPIBuilder returns a new requests.Builder configured for the HubSpot API.
func (h HubSpotFetcherAndUpdater) HubSpotAPIBuilder() *requests.Builder {
	result := requests.
		URL(h.Config.API.Endpoints.HubSpot).
		Client(&http.Client{Timeout: HTTPRequestTimeout}).
		Bearer(h.Config.API.Keys.HubSpot)
	if h.RecordRequests {
		result = result.Transport(requests.Record(nil, "testdata/.requests/hubspot"))
	}
	return result
}

// recordStatus captures the response status code for failure classification
// without replacing the default validator.
func recordStatus(status *int) requests.ResponseHandler {
	return func(res *http.Response) error {
		*status = res.StatusCode
		return nil
	}
}

// CRMCallError wraps a failed HubSpot call with the status code needed to
// classify it.
type CRMCallError struct {
	Status int
	Body   HubSpotError
	Err    error
}

func (e CRMCallError) Error() string {
	return fmt.Sprintf("hubspot call failed (status %d): %v", e.Status, e.Err)
}

func (e CRMCallError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Rate limits, server
// errors and transport failures (status 0) are retried on a later run by
// leaving the record unledgered. Any other 4xx is fatal for the record.
func (e CRMCallError) Retryable() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	if e.Status >= 500 || e.Status == 0 {
		return true
	}
	return false
}

// FindContactByEmail returns the HubSpot contact id for an email, or empty
// string when no contact exists.
func (h HubSpotFetcherAndUpdater) FindContactByEmail(email string, ctx context.Context) (string, error) {
	var status int
	hubspotError := HubSpotError{}
	var json string
	err := h.HubSpotAPIBuilder().
		Pathf("/crm/v3/objects/contacts/%s", email).
		Param("idProperty", "email").
		AddValidator(recordStatus(&status)).
		ToString(&json).
		ErrorJSON(&hubspotError).
		Fetch(ctx)
	if err != nil {
		if status == http.StatusNotFound {
			return "", nil
		}
		log.Printf("HubSpot Error: %+v", hubspotError)
		return "", CRMCallError{Status: status, Body: hubspotError, Err: err}
	}
	return gjson.Parse(json).Get("id").String(), nil
}

// CreateContact creates a new contact and returns its id.
func (h HubSpotFetcherAndUpdater) CreateContact(properties ContactProperties, ctx context.Context) (string, error) {
	body, err := contactRequestBody(properties)
	if err != nil {
		return "", err
	}

	var status int
	hubspotError := HubSpotError{}
	var json string
	err = h.HubSpotAPIBuilder().
		Path("/crm/v3/objects/contacts").
		ContentType("application/json").
		BodyBytes(body).
		AddValidator(recordStatus(&status)).
		ToString(&json).
		ErrorJSON(&hubspotError).
		Fetch(ctx)
	if err != nil {
		log.Printf("HubSpot Error: %+v", hubspotError)
		return "", CRMCallError{Status: status, Body: hubspotError, Err: err}
	}
	return gjson.Parse(json).Get("id").String(), nil
}

// UpdateContact issues a partial update to an existing contact.
func (h HubSpotFetcherAndUpdater) UpdateContact(contactID string, properties ContactProperties, ctx context.Context) error {
	body, err := contactRequestBody(properties)
	if err != nil {
		return err
	}

	var status int
	hubspotError := HubSpotError{}
	err = h.HubSpotAPIBuilder().
		Patch().
		Pathf("/crm/v3/objects/contacts/%s", contactID).
		ContentType("application/json").
		BodyBytes(body).
		AddValidator(recordStatus(&status)).
		ErrorJSON(&hubspotError).
		Fetch(ctx)
	if err != nil {
		log.Printf("HubSpot Error: %+v", hubspotError)
		return CRMCallError{Status: status, Body: hubspotError, Err: err}
	}
	return nil
}

// BatchUpsertContact submits one contact through HubSpot's native batch
// upsert keyed by email, letting the CRM decide create vs update.
// Returns true when the contact was newly created.
func (h HubSpotFetcherAndUpdater) BatchUpsertContact(properties ContactProperties, ctx context.Context) (bool, error) {
	email := properties[PropEmail]

	input, err := contactRequestBody(properties)
	if err != nil {
		return false, err
	}
	body, err := sjson.SetBytes([]byte(`{"inputs":[]}`), "inputs.0", gjson.ParseBytes(input).Value())
	if err != nil {
		return false, err
	}
	body, err = sjson.SetBytes(body, "inputs.0.idProperty", "email")
	if err != nil {
		return false, err
	}
	body, err = sjson.SetBytes(body, "inputs.0.id", email)
	if err != nil {
		return false, err
	}

	var status int
	hubspotError := HubSpotError{}
	var json string
	err = h.HubSpotAPIBuilder().
		Path("/crm/v3/objects/contacts/batch/upsert").
		ContentType("application/json").
		BodyBytes(body).
		AddValidator(recordStatus(&status)).
		ToString(&json).
		ErrorJSON(&hubspotError).
		Fetch(ctx)
	if err != nil {
		log.Printf("HubSpot Error: %+v", hubspotError)
		return false, CRMCallError{Status: status, Body: hubspotError, Err: err}
	}
	return gjson.Parse(json).Get("results.0.new").Bool(), nil
}

// contactRequestBody builds the {"properties":{...}} request body.
func contactRequestBody(properties ContactProperties) ([]byte, error) {
	body := []byte(`{"properties":{}}`)
	var err error
	for k, v := range properties {
		body, err = sjson.SetBytes(body, "properties."+k, v)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

const SymplaOrdersPageLimit = "100"

type SymplaError map[string]interface{}

type fetchSymplaDataParams struct {
	SymplaAPIKey     string
	Context          context.Context
	SymplaAPIBuilder *requests.Builder
}

// Pagination is the descriptor Sympla returns alongside each listing page.
type Pagination struct {
	Page       int `json:"page"`
	TotalPages int `json:"total_page"`
}

// OrdersPage is one page of an event's orders listing, with each order
// already reduced to a SourceRecord built from its buyer fields.
type OrdersPage struct {
	Records    []SourceRecord
	Pagination Pagination
}

// LastPage reports whether iteration should stop after this page.
func (p OrdersPage) LastPage() bool {
	return len(p.Records) == 0 || p.Pagination.Page >= p.Pagination.TotalPages
}

// SymplaFetcherAndUpdater handles fetching data from the Sympla API.
// It embeds *SyncContext for shared sync configuration.
type SymplaFetcherAndUpdater struct {
	*SyncContext
}

// SymplaAPIKey returns the Sympla API key from the config.
func (s *SymplaFetcherAndUpdater) SymplaAPIKey() string {
	return s.Config.API.Keys.Sympla
}

// SymplaAPIBuilder returns a new requests.Builder configured for the Sympla API.
func (s *SymplaFetcherAndUpdater) SymplaAPIBuilder() *requests.Builder {
	apiBuilder := requests.
		URL(s.Config.API.Endpoints.Sympla).
		Client(&http.Client{Timeout: HTTPRequestTimeout})
	if s.RecordRequests {
		apiBuilder = apiBuilder.Transport(requests.Record(nil, "testdata/.requests/sympla"))
	}
	return apiBuilder
}

func (s *SymplaFetcherAndUpdater) fetchParams(ctx context.Context) fetchSymplaDataParams {
	return fetchSymplaDataParams{
		SymplaAPIKey:     s.SymplaAPIKey(),
		Context:          ctx,
		SymplaAPIBuilder: s.SymplaAPIBuilder(),
	}
}

// FetchEventDetails resolves the name of an event. Lookup failure is not
// fatal: the returned context carries the id with an empty name so mapped
// fields depending on it degrade to their fallbacks.
func (s *SymplaFetcherAndUpdater) FetchEventDetails(eventID string, ctx context.Context) EventContext {
	result := EventContext{ID: eventID}
	if eventID == "" {
		return result
	}

	params := s.fetchParams(ctx)
	symplaError := SymplaError{}
	var json string
	err := params.SymplaAPIBuilder.
		Pathf("/v3/events/%s", eventID).
		Header("s_authorization", params.SymplaAPIKey).
		ToString(&json).
		ErrorJSON(&symplaError).
		Fetch(params.Context)
	if err != nil {
		log.Printf("Sympla Error: %+v", symplaError)
		return result
	}
	if !gjson.Valid(json) {
		log.Printf("Invalid Sympla Response:\n%s", json)
		return result
	}
	result.Name = gjson.Parse(json).Get("data.name").String()
	return result
}

// FetchOrdersPage fetches one page of the orders listing for an event.
// Errors here abort only the remaining pages of the current run.
func (s *SymplaFetcherAndUpdater) FetchOrdersPage(eventID string, page int, ctx context.Context) (OrdersPage, error) {
	var result OrdersPage

	params := s.fetchParams(ctx)
	symplaError := SymplaError{}
	var json string
	err := params.SymplaAPIBuilder.
		Pathf("/v3/events/%s/orders", eventID).
		Param("page", fmt.Sprintf("%d", page)).
		Param("page_size", SymplaOrdersPageLimit).
		Header("s_authorization", params.SymplaAPIKey).
		ToString(&json).
		ErrorJSON(&symplaError).
		Fetch(params.Context)
	if err != nil {
		log.Printf("Sympla Error: %+v", symplaError)
		return result, fmt.Errorf("failed to fetch orders page %d for event %s %w", page, eventID, err)
	}
	if !gjson.Valid(json) {
		log.Printf("Invalid Sympla Response:\n%s", json)
		return result, errors.New("invalid json response")
	}

	parsed := gjson.Parse(json)
	result.Pagination.Page = int(parsed.Get("pagination.page").Int())
	result.Pagination.TotalPages = int(parsed.Get("pagination.total_page").Int())
	for _, order := range parsed.Get("data").Array() {
		result.Records = append(result.Records, BuyerRecordFromOrder(Source{data: order}, eventID))
	}
	return result, nil
}

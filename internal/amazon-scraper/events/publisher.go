package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/database"
)

type EventType string

const (
	// EventTypeProductFetched is emitted for every processed import job item,
	// successful or not.
	EventTypeProductFetched EventType = "PRODUCT_FETCHED"

	aggregateType = "import_job"
	source        = "amazon-product-fetcher"
)

// ProductFetchedPayload is the body of a PRODUCT_FETCHED event.
type ProductFetchedPayload struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	JobID     string                 `json:"job_id"`
	Position  int                    `json:"position"`
	Input     string                 `json:"input"`
	ASIN      string                 `json:"asin,omitempty"`
	Success   bool                   `json:"success"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Fields    []string               `json:"fields_found"`
	Product   *scraper.ProductRecord `json:"product,omitempty"`
	Source    string                 `json:"source"`
}

// NewProductFetched builds the payload for one pipeline result.
func NewProductFetched(jobID uuid.UUID, position int, input string, res scraper.Result) *ProductFetchedPayload {
	p := &ProductFetchedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeProductFetched),
		Timestamp: time.Now().UTC(),
		JobID:     jobID.String(),
		Position:  position,
		Input:     input,
		ASIN:      res.Record.ASIN,
		Success:   res.OK(),
		Fields:    res.Record.FieldsFound(),
		Source:    source,
	}
	if p.Fields == nil {
		p.Fields = []string{}
	}
	if res.OK() {
		rec := res.Record
		p.Product = &rec
	} else {
		p.ErrorKind = string(res.Err.Kind)
	}
	return p
}

// OutboxEvent wraps the payload for the transactional outbox. The job is the
// aggregate so consumers can group items per import.
func (p *ProductFetchedPayload) OutboxEvent() (*database.OutboxEvent, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   p.JobID,
		EventType:     p.EventType,
		Payload:       data,
		TargetStream:  database.DefaultTargetStream,
	}, nil
}

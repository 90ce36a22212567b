package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quantcrux/internal/models"
)

// RequestState is the lifecycle position of a pricing request.
type RequestState string

const (
	StateRequested RequestState = "REQUESTED"
	StatePriced    RequestState = "PRICED"
	StateFailed    RequestState = "FAILED"
)

// Request tracks one pricing attempt from submission to outcome.
type Request struct {
	ID          string
	Terms       models.ProductTerms
	Inputs      models.MarketInputs
	State       RequestState
	Valuation   *Valuation
	Err         error
	RequestedAt time.Time
	CompletedAt time.Time
}

// NewRequest creates a request in the REQUESTED state.
func NewRequest(terms models.ProductTerms, inputs models.MarketInputs) *Request {
	return &Request{
		ID:          uuid.NewString(),
		Terms:       terms,
		Inputs:      inputs,
		State:       StateRequested,
		RequestedAt: time.Now(),
	}
}

// Execute prices the request and moves it to PRICED or FAILED. A request
// that already left REQUESTED is not priced again.
func (p *Pricer) Execute(ctx context.Context, req *Request) error {
	if req.State != StateRequested {
		return req.Err
	}
	v, err := p.Price(ctx, req.Terms, req.Inputs)
	req.CompletedAt = time.Now()
	if err != nil {
		req.State = StateFailed
		req.Err = err
		p.logger.Warn().Err(err).Str("request_id", req.ID).Str("product_id", req.Terms.ProductID).Msg("Pricing failed")
		return err
	}
	req.State = StatePriced
	req.Valuation = v
	return nil
}

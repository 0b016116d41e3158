package crm

import (
	"context"
	"strconv"
	"time"

	"github.com/vopex/crmkit/httpx"
)

type Party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Opportunity struct {
	ID              string    `json:"id,omitempty"`
	Name            string    `json:"name,omitempty"`
	Description     string    `json:"description,omitempty"`
	Customer        Party     `json:"customer,omitzero"`
	Stage           string    `json:"stage,omitempty"`
	ExpectedRevenue float64   `json:"expectedRevenue,omitempty"`
	Probability     float64   `json:"probability,omitempty"`
	Owner           Party     `json:"owner,omitzero"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// OpportunityFilter narrows List. Revenue bounds of zero are not sent.
type OpportunityFilter struct {
	Stage      string
	MinRevenue float64
	MaxRevenue float64
	Page       int
	PageSize   int
}

func (f OpportunityFilter) query() map[string]string {
	q := map[string]string{"stage": f.Stage}
	if f.Page > 0 {
		q["page"] = strconv.Itoa(f.Page)
	}
	if f.PageSize > 0 {
		q["pageSize"] = strconv.Itoa(f.PageSize)
	}
	if f.MinRevenue > 0 {
		q["minRevenue"] = strconv.FormatFloat(f.MinRevenue, 'f', -1, 64)
	}
	if f.MaxRevenue > 0 {
		q["maxRevenue"] = strconv.FormatFloat(f.MaxRevenue, 'f', -1, 64)
	}
	return q
}

// Interaction is one entry of an opportunity's activity timeline.
type Interaction struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunityId"`
	Type          string    `json:"type"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type OpportunityService struct {
	api *httpx.Client
}

func NewOpportunityService(api *httpx.Client, _ ...Option) *OpportunityService {
	return &OpportunityService{api: api}
}

func (s *OpportunityService) List(ctx context.Context, f OpportunityFilter) (Page[Opportunity], error) {
	return httpx.GetJSON[Page[Opportunity]](ctx, s.api, "/opportunities", httpx.WithQuery(f.query()))
}

func (s *OpportunityService) Create(ctx context.Context, o Opportunity) (Opportunity, error) {
	return httpx.PostJSON[Opportunity](ctx, s.api, "/opportunities", o)
}

func (s *OpportunityService) Update(ctx context.Context, id string, o Opportunity) (Opportunity, error) {
	if id == "" {
		return Opportunity{}, ErrMissingID
	}
	return httpx.PutJSON[Opportunity](ctx, s.api, pathID("/opportunities", id), o)
}

func (s *OpportunityService) Interactions(ctx context.Context, id string) ([]Interaction, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return httpx.GetJSON[[]Interaction](ctx, s.api, pathID("/opportunities", id, "interactions"))
}

func (s *OpportunityService) Communications(ctx context.Context, id string) ([]Interaction, error) {
	if id == "" {
		return nil, ErrMissingID
	}
	return httpx.GetJSON[[]Interaction](ctx, s.api, pathID("/opportunities", id, "communications"))
}

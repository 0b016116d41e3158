package crm

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/cache/tiered"
	"github.com/vopex/crmkit/httpx"
)

// LeadCacheNamespace is the cache namespace single leads are kept under.
const LeadCacheNamespace = "leads"

var ErrMissingID = errors.New("crm: id is required")

type Lead struct {
	ID         string         `json:"id,omitempty"`
	FirstName  string         `json:"firstName,omitempty"`
	LastName   string         `json:"lastName,omitempty"`
	Email      string         `json:"email,omitempty"`
	Phone      string         `json:"phone,omitempty"`
	Source     string         `json:"source,omitempty"`
	Status     string         `json:"status,omitempty"`
	Score      int            `json:"score,omitempty"`
	Enrichment map[string]any `json:"enrichment,omitempty"`
	CreatedAt  time.Time      `json:"createdAt,omitzero"`
	UpdatedAt  time.Time      `json:"updatedAt,omitzero"`
}

// LeadFilter narrows List. Zero fields are not sent.
type LeadFilter struct {
	Status   string
	Source   string
	Query    string
	Page     int
	PageSize int
}

func (f LeadFilter) query() map[string]string {
	page, size := f.Page, f.PageSize
	if page < 1 {
		page = defaultPage
	}
	if size < 1 {
		size = defaultPageSize
	}
	return map[string]string{
		"page":     strconv.Itoa(page),
		"pageSize": strconv.Itoa(size),
		"status":   f.Status,
		"source":   f.Source,
		"q":        f.Query,
	}
}

type LeadScore struct {
	LeadID string `json:"leadId"`
	Score  int    `json:"score"`
}

type LeadPrediction struct {
	LeadID                string  `json:"leadId"`
	ConversionProbability float64 `json:"conversionProbability"`
	RecommendedAction     string  `json:"recommendedAction"`
}

type LeadService struct {
	api    *httpx.Client
	cache  *tiered.Cache
	logger zerolog.Logger
}

func NewLeadService(api *httpx.Client, opts ...Option) *LeadService {
	o := buildOptions(opts)
	return &LeadService{api: api, cache: o.cache, logger: o.logger}
}

func (s *LeadService) List(ctx context.Context, f LeadFilter) (Page[Lead], error) {
	return httpx.GetJSON[Page[Lead]](ctx, s.api, "/leads", httpx.WithQuery(f.query()))
}

// Get returns one lead, from the cache when possible. Fetched leads are
// cached for the cache's default TTL.
func (s *LeadService) Get(ctx context.Context, id string) (Lead, error) {
	if id == "" {
		return Lead{}, ErrMissingID
	}
	if s.cache != nil {
		var cached Lead
		ok, err := s.cache.Get(ctx, id, &cached, tiered.WithNamespace(LeadCacheNamespace))
		if err != nil {
			s.logger.Warn().Err(err).Str("lead", id).Msg("lead cache read")
		} else if ok {
			return cached, nil
		}
	}

	lead, err := httpx.GetJSON[Lead](ctx, s.api, pathID("/leads", id))
	if err != nil {
		return Lead{}, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, id, lead, tiered.WithNamespace(LeadCacheNamespace)); err != nil {
			s.logger.Warn().Err(err).Str("lead", id).Msg("lead cache write")
		}
	}
	return lead, nil
}

func (s *LeadService) Create(ctx context.Context, l Lead) (Lead, error) {
	return httpx.PostJSON[Lead](ctx, s.api, "/leads", l)
}

// Update sends the non-zero fields of l and drops the cached copy.
func (s *LeadService) Update(ctx context.Context, id string, l Lead) (Lead, error) {
	if id == "" {
		return Lead{}, ErrMissingID
	}
	out, err := httpx.PutJSON[Lead](ctx, s.api, pathID("/leads", id), l)
	if err != nil {
		return Lead{}, err
	}
	s.invalidate(ctx, id)
	return out, nil
}

// Enrich attaches additional info to a lead.
func (s *LeadService) Enrich(ctx context.Context, id string, info map[string]any) (Lead, error) {
	if id == "" {
		return Lead{}, ErrMissingID
	}
	out, err := httpx.PostJSON[Lead](ctx, s.api, pathID("/leads", id, "enrich"), map[string]any{"additionalInfo": info})
	if err != nil {
		return Lead{}, err
	}
	s.invalidate(ctx, id)
	return out, nil
}

func (s *LeadService) Score(ctx context.Context, id string) (LeadScore, error) {
	if id == "" {
		return LeadScore{}, ErrMissingID
	}
	return httpx.GetJSON[LeadScore](ctx, s.api, pathID("/leads", id, "score"))
}

func (s *LeadService) Prediction(ctx context.Context, id string) (LeadPrediction, error) {
	if id == "" {
		return LeadPrediction{}, ErrMissingID
	}
	return httpx.GetJSON[LeadPrediction](ctx, s.api, pathID("/leads", id, "prediction"))
}

func (s *LeadService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, id, tiered.WithNamespace(LeadCacheNamespace)); err != nil {
		s.logger.Warn().Err(err).Str("lead", id).Msg("lead cache invalidate")
	}
}

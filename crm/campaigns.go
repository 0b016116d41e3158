package crm

import (
	"context"
	"time"

	"github.com/vopex/crmkit/httpx"
)

// AutomationRule is an opaque rule document; the backend owns its schema.
type AutomationRule map[string]any

type Campaign struct {
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name"`
	Channel   string           `json:"channel,omitempty"`
	Status    string           `json:"status,omitempty"`
	Budget    float64          `json:"budget,omitempty"`
	Rules     []AutomationRule `json:"rules,omitempty"`
	CreatedAt time.Time        `json:"createdAt,omitzero"`
}

type CampaignReport struct {
	CampaignID string `json:"campaignId"`
	Sent       int    `json:"sent"`
	Opened     int    `json:"opened"`
	Clicked    int    `json:"clicked"`
	Converted  int    `json:"converted"`
}

type CampaignAnalytics struct {
	CampaignID     string  `json:"campaignId"`
	OpenRate       float64 `json:"openRate"`
	ClickRate      float64 `json:"clickRate"`
	ConversionRate float64 `json:"conversionRate"`
}

type AutomationResult struct {
	CampaignID string           `json:"campaignId"`
	Rules      []AutomationRule `json:"rules"`
	Saved      bool             `json:"saved"`
}

type CampaignService struct {
	api *httpx.Client
}

func NewCampaignService(api *httpx.Client, _ ...Option) *CampaignService {
	return &CampaignService{api: api}
}

func (s *CampaignService) Create(ctx context.Context, c Campaign) (Campaign, error) {
	return httpx.PostJSON[Campaign](ctx, s.api, "/campaigns", c)
}

func (s *CampaignService) List(ctx context.Context) ([]Campaign, error) {
	return httpx.GetJSON[[]Campaign](ctx, s.api, "/campaigns")
}

func (s *CampaignService) Report(ctx context.Context, id string) (CampaignReport, error) {
	if id == "" {
		return CampaignReport{}, ErrMissingID
	}
	return httpx.GetJSON[CampaignReport](ctx, s.api, pathID("/campaigns", id, "report"))
}

func (s *CampaignService) Analytics(ctx context.Context, id string) (CampaignAnalytics, error) {
	if id == "" {
		return CampaignAnalytics{}, ErrMissingID
	}
	return httpx.GetJSON[CampaignAnalytics](ctx, s.api, pathID("/campaigns", id, "analytics"))
}

func (s *CampaignService) SaveAutomationRules(ctx context.Context, id string, rules []AutomationRule) (AutomationResult, error) {
	if id == "" {
		return AutomationResult{}, ErrMissingID
	}
	if rules == nil {
		rules = []AutomationRule{}
	}
	return httpx.PostJSON[AutomationResult](ctx, s.api, pathID("/campaigns", id, "automation"), map[string]any{"rules": rules})
}

// Package crm wraps the CRM REST endpoints: leads, opportunities,
// campaigns and system health.
package crm

import (
	"net/url"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/cache/tiered"
	"github.com/vopex/crmkit/httpx"
)

// Page is one page of a list endpoint.
type Page[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

const (
	defaultPage     = 1
	defaultPageSize = 10
)

// Option configures the services in this package.
type Option func(*options)

type options struct {
	cache  *tiered.Cache
	logger zerolog.Logger
}

// WithCache lets read paths serve from c. Writes invalidate what they touch.
func WithCache(c *tiered.Cache) Option {
	return func(o *options) { o.cache = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Services groups every endpoint wrapper over one client.
type Services struct {
	Leads         *LeadService
	Opportunities *OpportunityService
	Campaigns     *CampaignService
	System        *SystemService
}

func New(api *httpx.Client, opts ...Option) *Services {
	return &Services{
		Leads:         NewLeadService(api, opts...),
		Opportunities: NewOpportunityService(api, opts...),
		Campaigns:     NewCampaignService(api, opts...),
		System:        NewSystemService(api, opts...),
	}
}

func pathID(prefix, id string, suffix ...string) string {
	p := prefix + "/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

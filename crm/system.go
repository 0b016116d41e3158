package crm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vopex/crmkit/httpx"
	"github.com/vopex/crmkit/internal/poll"
)

// DefaultHealthInterval is the MonitorHealth delay when none is given.
const DefaultHealthInterval = 15 * time.Minute

type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Time          string `json:"time"`
}

type SystemService struct {
	api    *httpx.Client
	logger zerolog.Logger
}

func NewSystemService(api *httpx.Client, opts ...Option) *SystemService {
	o := buildOptions(opts)
	return &SystemService{api: api, logger: o.logger}
}

func (s *SystemService) Health(ctx context.Context) (Health, error) {
	return httpx.GetJSON[Health](ctx, s.api, "/system/health")
}

// MonitorHealth checks health now and then interval after each check,
// handing every result to onResult, until ctx is done. Failed checks do not
// stop the loop.
func (s *SystemService) MonitorHealth(ctx context.Context, interval time.Duration, onResult func(Health, error)) error {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return poll.Every(ctx, interval, func(ctx context.Context) error {
		h, err := s.Health(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
		}
		if onResult != nil {
			onResult(h, err)
		}
		return err
	})
}

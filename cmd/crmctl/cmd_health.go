package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/crm"
)

func newHealthCmd(get func() *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check backend health, once or on a fixed delay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			if !watch {
				h, err := a.crm.System.Health(ctx)
				if err != nil {
					return err
				}
				return a.print(h)
			}

			if interval <= 0 {
				interval = a.cfg.API.HealthInterval
			}
			err := a.crm.System.MonitorHealth(ctx, interval, func(h crm.Health, err error) {
				if err != nil {
					return
				}
				_ = a.print(h)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep checking until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "delay between checks (default CRM_API_HEALTH_INTERVAL)")
	return cmd
}

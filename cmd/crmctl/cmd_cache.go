package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/cache/tiered"
	"github.com/vopex/crmkit/storage"
)

func newCacheCmd(get func() *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Read and write the local two-tier cache",
	}
	cmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "cache namespace")

	var ttl time.Duration
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE (JSON, or a plain string) under KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any = args[1]
			if json.Valid([]byte(args[1])) {
				value = json.RawMessage(args[1])
			}
			return get().cache.Set(cmd.Context(), args[0], value,
				tiered.WithNamespace(namespace), tiered.WithTTL(ttl))
		},
	}
	set.Flags().DurationVar(&ttl, "ttl", 0, "time to live (default from CRM_CACHE_DEFAULT_TTL)")

	getCmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the cached value for KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			var v json.RawMessage
			ok, err := a.cache.Get(cmd.Context(), args[0], &v, tiered.WithNamespace(namespace))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("cache: %q not found", tiered.FullKey(args[0], namespace))
			}
			return a.print(v)
		},
	}

	del := &cobra.Command{
		Use:   "del KEY",
		Short: "Remove KEY from both tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get().cache.Delete(cmd.Context(), args[0], tiered.WithNamespace(namespace))
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key in --namespace, or everything when it is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return get().cache.Clear(cmd.Context(), namespace)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show memory tier and storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			usage, err := a.store.Usage(cmd.Context())
			if err != nil && !errors.Is(err, storage.ErrScanUnsupported) {
				return err
			}
			return a.print(map[string]any{
				"memory":  a.cache.Stats(),
				"storage": usage,
			})
		},
	}

	cmd.AddCommand(set, getCmd, del, clearCmd, stats)
	return cmd
}

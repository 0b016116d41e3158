package main

import (
	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/crm"
)

func newLeadsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List and inspect leads",
	}

	var f crm.LeadFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			page, err := a.crm.Leads.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.print(page)
		},
	}
	list.Flags().StringVar(&f.Status, "status", "", "filter by status")
	list.Flags().StringVar(&f.Source, "source", "", "filter by source")
	list.Flags().StringVarP(&f.Query, "query", "q", "", "search name and email")
	list.Flags().IntVar(&f.Page, "page", 1, "page number")
	list.Flags().IntVar(&f.PageSize, "page-size", 10, "page size")

	show := &cobra.Command{
		Use:   "get ID",
		Short: "Show one lead, served from the cache when fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			lead, err := a.crm.Leads.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(lead)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nasalert/nasalert/pkg/types"
)

func newAlertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Inspect and manage alerts through the REST API",
	}
	addClientFlags(cmd)
	cmd.AddCommand(
		newAlertListCmd(),
		newAlertIDCmd("dismiss", "Dismiss an alert", "/alert/dismiss/"),
		newAlertIDCmd("restore", "Restore a dismissed alert", "/alert/restore/"),
		newAlertClassesCmd(),
		newAlertCategoriesCmd(),
		newAlertPoliciesCmd(),
		newOneShotCreateCmd(),
		newOneShotDeleteCmd(),
	)
	return cmd
}

func newAlertListCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, v, err := newClient(cmd)
			if err != nil {
				return err
			}
			path := "/alert/list/"
			if id != "" {
				path += "?id=" + url.QueryEscape(id)
			}
			var out []types.Alert
			if err := c.get(cmd.Context(), path, &out); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out))
			for _, a := range out {
				rows = append(rows, []string{a.ID, a.Level, a.Klass, strconv.FormatBool(a.Dismissed), a.Formatted})
			}
			return printTable(cmd.OutOrStdout(), []string{"ID", "LEVEL", "CLASS", "DISMISSED", "MESSAGE"}, rows)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "show only the alert with this id")
	return cmd
}

// newAlertIDCmd builds dismiss and restore, which post a bare alert id.
func newAlertIDCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			return c.post(cmd.Context(), path, args[0], nil)
		},
	}
}

func newAlertClassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List alert classes with their effective level and policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, v, err := newClient(cmd)
			if err != nil {
				return err
			}
			var out []types.Class
			if err := c.get(cmd.Context(), "/alert/classes/", &out); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out))
			for _, k := range out {
				rows = append(rows, []string{k.ID, k.Category, k.Level, k.Policy, strconv.FormatBool(k.OneShot)})
			}
			return printTable(cmd.OutOrStdout(), []string{"CLASS", "CATEGORY", "LEVEL", "POLICY", "ONESHOT"}, rows)
		},
	}
}

func newAlertCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List alert categories and their classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, v, err := newClient(cmd)
			if err != nil {
				return err
			}
			var out []types.Category
			if err := c.get(cmd.Context(), "/alert/list_categories/", &out); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), out)
			}
			var rows [][]string
			for _, cat := range out {
				for _, k := range cat.Classes {
					rows = append(rows, []string{cat.ID, k.ID, k.Level, k.Title})
				}
			}
			return printTable(cmd.OutOrStdout(), []string{"CATEGORY", "CLASS", "LEVEL", "TITLE"}, rows)
		},
	}
}

func newAlertPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List notification policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			var out []string
			if err := c.get(cmd.Context(), "/alert/list_policies/", &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newOneShotCreateCmd() *cobra.Command {
	var args map[string]string
	cmd := &cobra.Command{
		Use:   "oneshot-create CLASS",
		Short: "Raise a one-shot alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			req := types.OneShotCreateRequest{Klass: pos[0], Args: make(map[string]any, len(args))}
			for k, v := range args {
				req.Args[k] = v
			}
			var out types.Alert
			if err := c.post(cmd.Context(), "/alert/oneshot_create/", req, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringToStringVar(&args, "arg", nil, "alert argument as key=value, repeatable")
	return cmd
}

func newOneShotDeleteCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "oneshot-delete CLASS",
		Short: "Remove the one-shot alert of a class with the given key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			c, _, err := newClient(cmd)
			if err != nil {
				return err
			}
			req := types.OneShotDeleteRequest{Klass: pos[0], Query: query}
			return c.post(cmd.Context(), "/alert/oneshot_delete/", req, nil)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "key of the alert to remove")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

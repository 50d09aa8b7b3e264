package main

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nasalert/nasalert/server/internal/identity"
)

func newIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Resolve users and groups through the identity provider chain",
	}
	addClientFlags(cmd)
	cmd.AddCommand(newIDUserCmd(), newIDGroupCmd())
	return cmd
}

func newIDUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user [NAME|UID]",
		Short: "Show one user, or every user when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := newClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				var u identity.User
				if err := c.get(cmd.Context(), "/user/"+url.PathEscape(args[0])+"/", &u); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), u)
			}
			var out []identity.User
			if err := c.get(cmd.Context(), "/user/", &out); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out))
			for _, u := range out {
				rows = append(rows, []string{u.Name, strconv.Itoa(u.UID), strconv.Itoa(u.GID), u.Dir, u.Source})
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "UID", "GID", "HOME", "SOURCE"}, rows)
		},
	}
}

func newIDGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group [NAME|GID]",
		Short: "Show one group, or every group when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, v, err := newClient(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				var g identity.Group
				if err := c.get(cmd.Context(), "/group/"+url.PathEscape(args[0])+"/", &g); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), g)
			}
			var out []identity.Group
			if err := c.get(cmd.Context(), "/group/", &out); err != nil {
				return err
			}
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out))
			for _, g := range out {
				rows = append(rows, []string{g.Name, strconv.Itoa(g.GID), strings.Join(g.Members, ","), g.Source})
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "GID", "MEMBERS", "SOURCE"}, rows)
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
)

func newStatsCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession(sess)

			st := sess.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintf(out, "mode:           %s\n", sess.Mode())
			fmt.Fprintf(out, "active:         %d\n", st.Active)
			fmt.Fprintf(out, "deleted:        %d\n", st.Deleted)
			fmt.Fprintf(out, "total:          %d\n", st.Total)
			fmt.Fprintf(out, "cleanup needed: %t\n", st.CleanupNeeded)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newListCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active memories, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession(sess)

			items := sess.List(limit)
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No memories.")
				return nil
			}
			for _, it := range items {
				fmt.Fprintf(out, "%4d  %s  %-20s  %s\n", it.ID, it.CreatedAt, it.Type, it.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of memories (default memory.list_limit)")
	return cmd
}

func newForgetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "forget ID...",
		Short: "Delete memories by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil {
					return goerr.Wrap(err, "memory id must be an integer", goerr.V("id", arg))
				}
				ids = append(ids, id)
			}

			sess, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession(sess)

			for _, id := range ids {
				if sess.DeleteByID(cmd.Context(), id) {
					fmt.Fprintf(cmd.OutOrStdout(), "forgot memory %d\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "no active memory %d\n", id)
				}
			}
			return nil
		},
	}
}

func newCleanupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop deleted memories and rebuild the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := g.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSession(sess)

			before := sess.Stats()
			if err := sess.Cleanup(cmd.Context()); err != nil {
				return goerr.Wrap(err, "cleanup failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d deleted memories, %d remain\n", before.Deleted, sess.Stats().Active)
			return nil
		},
	}
}

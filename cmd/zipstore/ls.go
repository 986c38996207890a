package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/internal/pathutil"
)

func newLsCommand(a *app) *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls LOCATION [PATH]",
		Short: "List the entries of an archive directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			dir := ""
			if len(args) == 2 {
				dir = args[1]
			}
			names, err := s.List(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !long {
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			for _, name := range names {
				m, _ := s.Lookup(pathutil.Join(dir, name))
				switch m := m.(type) {
				case *zipstore.File:
					fmt.Fprintf(out, "%12d  %s\n", m.Size, name)
				case *zipstore.Dir:
					fmt.Fprintf(out, "%12s  %s/\n", "-", name)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show member sizes")
	return cmd
}

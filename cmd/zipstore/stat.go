package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/zipstore"
	"github.com/meigma/zipstore/store"
)

func newStatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat LOCATION PATH",
		Short: "Show the location of a member inside the archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			m, ok := s.Lookup(args[1])
			if !ok {
				return fmt.Errorf("stat %q: %w", args[1], store.ErrKeyNotFound)
			}

			out := cmd.OutOrStdout()
			switch m := m.(type) {
			case *zipstore.File:
				fmt.Fprintf(out, "name:           %s\n", m.Name)
				fmt.Fprintf(out, "type:           file\n")
				fmt.Fprintf(out, "size:           %d\n", m.Size)
				fmt.Fprintf(out, "content offset: %d\n", m.ContentOffset)
				fmt.Fprintf(out, "header offset:  %d\n", m.HeaderOffset)
				fmt.Fprintf(out, "stored:         %t\n", m.Stored())
			case *zipstore.Dir:
				name := m.Name
				if name == "" {
					name = "."
				}
				fmt.Fprintf(out, "name:           %s\n", name)
				fmt.Fprintf(out, "type:           directory\n")
				fmt.Fprintf(out, "entries:        %d\n", len(m.Children))
			}
			return nil
		},
	}
}

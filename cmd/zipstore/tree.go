package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/meigma/zipstore/internal/pathutil"
	"github.com/meigma/zipstore/store"
)

func newTreeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree LOCATION [PATH]",
		Short: "Print the directory tree of an archive",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			dir := ""
			if len(args) == 2 {
				dir = pathutil.Normalize(args[1])
			}
			label := dir
			if label == "" {
				label = "."
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, label)
			return printTree(out, s, dir, "")
		},
	}
}

// printTree writes the entries below dir in archive order.
func printTree(w io.Writer, s *store.Store, dir, indent string) error {
	names, err := s.List(dir)
	if err != nil {
		return err
	}
	for i, name := range names {
		branch, next := "├── ", "│   "
		if i == len(names)-1 {
			branch, next = "└── ", "    "
		}
		key := pathutil.Join(dir, name)
		if !s.IsDir(key) {
			fmt.Fprintf(w, "%s%s%s\n", indent, branch, name)
			continue
		}
		fmt.Fprintf(w, "%s%s%s/\n", indent, branch, name)
		if err := printTree(w, s, key, indent+next); err != nil {
			return err
		}
	}
	return nil
}

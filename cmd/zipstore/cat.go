package main

import (
	"github.com/spf13/cobra"

	"github.com/meigma/zipstore"
)

func newCatCommand(a *app) *cobra.Command {
	var offset, length int64
	cmd := &cobra.Command{
		Use:   "cat LOCATION PATH",
		Short: "Write a member's bytes to stdout",
		Long: `cat fetches a member, or a byte range of it, with a single range request.
A negative --offset counts from the end of the member.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			end := zipstore.ToEnd
			if length >= 0 {
				end = offset + length
				if offset < 0 && end >= 0 {
					end = zipstore.ToEnd
				}
			}
			data, err := s.GetRange(cmd.Context(), args[1], offset, end)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "First byte to read")
	cmd.Flags().Int64Var(&length, "length", -1, "Bytes to read (-1 = to the end)")
	return cmd
}

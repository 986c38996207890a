package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errVerifyFailed = errors.New("verification failed")

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify LOCATION",
		Short: "Check the local header of every member",
		Long: `verify fetches the local file header of every member and checks that it
agrees with the central directory. Members whose content offset is wrong,
or that are compressed, are reported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var (
				mu       sync.Mutex
				failures = make(map[string]error)
			)
			keys := s.Keys()
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(a.cfg.Concurrency, 1))
			for _, key := range keys {
				g.Go(func() error {
					if err := s.Verify(ctx, key); err != nil {
						mu.Lock()
						failures[key] = err
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				if err, ok := failures[key]; ok {
					fmt.Fprintf(out, "FAIL %s: %v\n", key, err)
				}
			}
			fmt.Fprintf(out, "%d members, %d failed\n", len(keys), len(failures))
			if len(failures) > 0 {
				return errVerifyFailed
			}
			return nil
		},
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panyam/lettings/mockapi"
)

func newServeMockCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run the fake marketplace API locally",
		Long: fmt.Sprintf(`Starts an in-process fake of the marketplace API with seeded listings and
the account %s / %s. Point the client at it with --api.`, mockapi.DemoUser, mockapi.DemoPassword),
		RunE: func(cmd *cobra.Command, args []string) error {
			mc := a.cfg.Mock
			if addr == "" {
				addr = mc.Addr
			}
			srv := mockapi.New(
				mockapi.WithSecret(mc.Secret),
				mockapi.WithAccessTTL(mc.AccessTTL),
				mockapi.WithRefreshTTL(mc.RefreshTTL),
				mockapi.WithLogger(a.logger),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Mock API on %s (user %s)\n", addr, mockapi.DemoUser)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default mock.addr)")
	return cmd
}

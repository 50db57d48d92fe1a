package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-portal/core/alert"
	"github.com/trezcool/masomo-portal/core/counter"
	"github.com/trezcool/masomo-portal/core/portal"
)

func (cli *commandLine) watchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay subscribed to new-message notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := cli.open(ctx)
			if err != nil {
				return err
			}
			ident, ok := a.session.Identity()
			if !ok {
				return portal.ErrNotAuthenticated
			}

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: a.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.logger.Error(fmt.Sprintf("metrics server closed: %v", err), err)
					}
				}()
				defer func() { _ = srv.Shutdown(context.Background()) }()
			}

			a.alerts.Subscribe(func(st alert.State) {
				if st.Visible {
					cli.printf("» %s\n", st.Text)
				}
			})
			a.counters.Subscribe(func(snap counter.Snapshot) {
				cli.printf("unread messages: %d\n", snap.Unread)
			})

			cli.printf("watching notifications for %s (#%d), press Ctrl+C to stop\n", ident.Name, ident.ID)
			if err = a.svc.Start(ctx); err != nil {
				return err
			}
			defer a.svc.Stop()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", cli.conf.MetricsAddr, "Serve Prometheus metrics on this address")
	return cmd
}

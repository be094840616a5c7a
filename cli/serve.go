package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kids-rollcall/attendance"
	"kids-rollcall/handlers"
)

// NewServeCommand creates the command that runs the HTTP API.
func NewServeCommand(root *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the attendance HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Printf("Error closing %s store: %v", cfg.Store, err)
				}
			}()

			svc := attendance.NewService(store)
			router := handlers.NewRouter(handlers.NewAPIHandler(svc), cfg.CORSOrigins)
			srv := &http.Server{Addr: cfg.Addr, Handler: router}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("Backend running on %s (%s store)", cfg.Addr, cfg.Store)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Println("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides ROLLCALL_ADDR")
	return cmd
}

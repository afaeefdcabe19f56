package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/warp/community-engine/api"
	"github.com/warp/community-engine/events"
	"github.com/warp/community-engine/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the overdue sweeper and the payment consumer",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	handler := api.NewHandler(a.service)
	handler.Currency = a.cfg.Currency.Formatter()
	handler.Logger = a.logger

	var amqpClient *events.Client
	if a.cfg.AMQP.URL != "" {
		amqpClient, err = events.Dial(events.ClientConfig{
			URL:           a.cfg.AMQP.URL,
			Exchange:      a.cfg.AMQP.Exchange,
			PaymentsQueue: a.cfg.AMQP.PaymentsQueue,
			PaymentsKey:   a.cfg.AMQP.PaymentsKey,
			ExpensesKey:   a.cfg.AMQP.ExpensesKey,
			Prefetch:      a.cfg.AMQP.PrefetchCount,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("connect to AMQP: %w", err)
		}
		defer amqpClient.Close()
		handler.Publisher = amqpClient
	} else {
		a.logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		EnforceRoles:   a.cfg.Access.EnforceRoles,
		Logger:         a.logger,
	})

	server := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server starting", "addr", server.Addr, "enforce_roles", a.cfg.Access.EnforceRoles)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	sweeper := api.NewOverdueSweeper(a.service, a.cfg.Sweeper.Interval.Duration, a.logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	if amqpClient != nil {
		paymentHandler := events.NewPaymentHandler(a.service, a.logger)
		g.Go(func() error {
			err := amqpClient.ConsumePayments(gctx, paymentHandler)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("server stopped with error", logging.FieldError, err)
		return err
	}
	a.logger.Info("server stopped")
	return nil
}

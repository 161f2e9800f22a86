/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/mq"
)

// workerCmd consumes borrow lifecycle events and writes the audit log.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume borrow events and write the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.MQ.Backend == "" {
			return errors.New("MQ_BACKEND is required to run the worker")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		backend, err := mq.NewBackend(ctx, cfg.MQ, logger)
		if err != nil {
			return err
		}
		defer backend.Close()

		channel := cfg.MQ.BorrowEventsChannel
		logger.Info("worker subscribed", zap.String("backend", cfg.MQ.Backend), zap.String("channel", channel))
		err = backend.Subscribe(ctx, channel, mq.AuditHandler(logger))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

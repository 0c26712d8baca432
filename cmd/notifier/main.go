// Command notifier consumes ticket deliveries from RabbitMQ and mails them
// to buyers through MailerSend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cimillas/boxoffice/internal/config"
	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/spf13/pflag"
)

func main() {
	var opts config.Options
	pflag.StringVar(&opts.EnvFile, "env-file", "", "path to a .env file (default: nearest .env in the working directory or its parents)")
	pflag.StringVar(&opts.ConfigDir, "config-dir", "", "directory holding an optional app.env")
	pflag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "notifier: %v\n", err)
		os.Exit(1)
	}
}

func run(opts config.Options) error {
	cfg, _, err := config.Load(opts)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}

	var missing []string
	if cfg.RabbitMQURL == "" {
		missing = append(missing, "RABBITMQ_URL")
	}
	if cfg.MailerSendAPIKey == "" {
		missing = append(missing, "MAILERSEND_API_KEY")
	}
	if cfg.MailerSendFromEmail == "" {
		missing = append(missing, "MAILERSEND_FROM_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailer := delivery.NewMailer(cfg.MailerSendAPIKey, cfg.MailerSendFromEmail, cfg.MailerSendFromName, logger)
	consumer := delivery.NewConsumer(cfg.RabbitMQURL, cfg.DeliveryQueue, logger)

	logger.Info().Str("queue", cfg.DeliveryQueue).Msg("notifier consuming deliveries")
	if err := consumer.Run(ctx, mailer.Send); err != nil {
		return err
	}
	logger.Info().Msg("notifier stopped")
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/meemoo/sipin-sip-validator/internal/app/sipvalidator"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/logger"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/types"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultPulsarPort = 6650
	defaultAMQPPort   = 5672
)

// NewSIPValidatorCommand returns the root command. All settings come from the environment.
func NewSIPValidatorCommand() *cobra.Command {
	validatorCmd := &cobra.Command{
		Use:           "sip-validator",
		Short:         "sip-validator: validates unzipped bags and publishes the outcome",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(viper.GetViper())
			if err != nil {
				return err
			}

			logger.Configure(cfg.LogLevel, cfg.LogFormat, cfg.Secrets())
			printConfig(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return sipvalidator.Run(ctx, cfg)
		},
	}

	validatorCmd.AddCommand(NewVersionCommand())
	validatorCmd.AddCommand(NewEventCommand())

	return validatorCmd
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "sip-validator")
	v.SetDefault("broker", types.BrokerPulsar)
	v.SetDefault("broker_host", "localhost")
	v.SetDefault("broker_port", 0)
	v.SetDefault("consumer_topic", "be.meemoo.sipin.bag.unzip")
	v.SetDefault("producer_bag_topic", "be.meemoo.sipin.bag.validate")
	v.SetDefault("producer_sip_topic", "be.meemoo.sipin.sip.validate")
	v.SetDefault("retry_max_attempts", 10)
	v.SetDefault("retry_initial_delay", "1s")
	v.SetDefault("retry_multiplier", 2)
	v.SetDefault("bag_checksum_workers", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_sensitive_config", false)
	v.SetDefault("print_config", false)
}

// loadConfig fills the configuration from environment variables bound to v
func loadConfig(v *viper.Viper) (*types.Configuration, error) {
	setDefaults(v)
	v.AutomaticEnv()
	// PULSAR_* names are still accepted for existing deployments
	_ = v.BindEnv("broker_host", "BROKER_HOST", "PULSAR_HOST")
	_ = v.BindEnv("broker_port", "BROKER_PORT", "PULSAR_PORT")

	cfg := &types.Configuration{
		AppName:            v.GetString("app_name"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		LogSensitiveConfig: v.GetBool("log_sensitive_config"),
		PrintConfig:        v.GetBool("print_config"),
		Broker:             v.GetString("broker"),
		BrokerHost:         v.GetString("broker_host"),
		BrokerPort:         v.GetInt("broker_port"),
		ConsumerTopic:      v.GetString("consumer_topic"),
		ProducerBagTopic:   v.GetString("producer_bag_topic"),
		ProducerSIPTopic:   v.GetString("producer_sip_topic"),
		AMQP: &types.AMQPConfig{
			Username: v.GetString("amqp_username"),
			Password: v.GetString("amqp_password"),
			UseTLS:   v.GetBool("amqp_tls"),
		},
		TLS: &types.TLSCerts{
			CertFile:   v.GetString("tls_cert_file"),
			KeyFile:    v.GetString("tls_key_file"),
			CACertFile: v.GetString("tls_ca_cert_file"),
		},
		Retry: &types.RetryConfig{
			MaxAttempts:  v.GetInt("retry_max_attempts"),
			InitialDelay: v.GetDuration("retry_initial_delay"),
			Multiplier:   v.GetFloat64("retry_multiplier"),
		},
		Bag: &types.BagConfig{
			ChecksumWorkers: v.GetInt("bag_checksum_workers"),
		},
	}

	if cfg.BrokerPort == 0 {
		cfg.BrokerPort = defaultPulsarPort
		if cfg.Broker == types.BrokerAMQP {
			cfg.BrokerPort = defaultAMQPPort
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printConfig(cfg *types.Configuration) {
	if !cfg.PrintConfig {
		return
	}
	log.Infoln(types.PrettyPrintStruct(types.RedactConfigSecrets(cfg)))
}

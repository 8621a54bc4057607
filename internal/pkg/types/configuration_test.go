package types

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Configuration {
	return &Configuration{
		AppName:          "sip-validator",
		Broker:           BrokerPulsar,
		BrokerHost:       "localhost",
		BrokerPort:       6650,
		ConsumerTopic:    "be.meemoo.sipin.bag.unzip",
		ProducerBagTopic: "be.meemoo.sipin.bag.validate",
		ProducerSIPTopic: "be.meemoo.sipin.sip.validate",
		AMQP:             &AMQPConfig{Username: "user", Password: "hunter2"},
		Retry: &RetryConfig{
			MaxAttempts:  10,
			InitialDelay: time.Second,
			Multiplier:   2,
		},
		Bag: &BagConfig{ChecksumWorkers: 4},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := validConfig()
	c.Broker = "kafka"
	c.BrokerPort = 0
	c.Retry.MaxAttempts = 0

	err := c.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"kafka", "port", "max attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}

func TestValidate_MissingRetry(t *testing.T) {
	c := validConfig()
	c.Retry = nil
	if err := c.Validate(); err == nil {
		t.Error("expected error for missing retry config")
	}
}

func TestRedactConfigSecrets(t *testing.T) {
	c := validConfig()
	r := RedactConfigSecrets(c)

	if r.AMQP.Password != redacted || r.AMQP.Username != redacted {
		t.Errorf("credentials not redacted: %+v", r.AMQP)
	}
	if c.AMQP.Password != "hunter2" {
		t.Error("redaction modified the original config")
	}

	c.LogSensitiveConfig = true
	r = RedactConfigSecrets(c)
	if r.AMQP.Password != "hunter2" {
		t.Error("expected secrets to be kept when LogSensitiveConfig is set")
	}
}

func TestTLSCertsAvailable(t *testing.T) {
	var nilCerts *TLSCerts
	if nilCerts.Available() {
		t.Error("nil certs should not be available")
	}
	partial := &TLSCerts{CertFile: "cert.pem"}
	if partial.Available() {
		t.Error("partial certs should not be available")
	}
	full := &TLSCerts{CertFile: "c", KeyFile: "k", CACertFile: "ca"}
	if !full.Available() {
		t.Error("full certs should be available")
	}
}

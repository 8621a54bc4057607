package types

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

const redacted = "****"

// Broker kinds supported by the validator
const (
	BrokerPulsar = "pulsar"
	BrokerAMQP   = "amqp"
)

// Configuration for the application
type Configuration struct {
	AppName            string       `yaml:"appname"`
	LogLevel           string       `yaml:"loglevel"`
	LogFormat          string       `yaml:"logformat"`
	LogSensitiveConfig bool         `yaml:"logsensitiveconfig"`
	PrintConfig        bool         `yaml:"printconfig"`
	Broker             string       `yaml:"broker"`
	BrokerHost         string       `yaml:"brokerhost"`
	BrokerPort         int          `yaml:"brokerport"`
	ConsumerTopic      string       `yaml:"consumertopic"`
	ProducerBagTopic   string       `yaml:"producerbagtopic"`
	ProducerSIPTopic   string       `yaml:"producersiptopic"`
	AMQP               *AMQPConfig  `yaml:"amqp"`
	TLS                *TLSCerts    `yaml:"tls"`
	Retry              *RetryConfig `yaml:"retry"`
	Bag                *BagConfig   `yaml:"bag"`
}

// AMQPConfig holds the credentials used when Broker is "amqp"
type AMQPConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"usetls"`
}

// RetryConfig configures the backoff applied while connecting to the broker
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxattempts"`
	InitialDelay time.Duration `yaml:"initialdelay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// BagConfig configures bag validation
type BagConfig struct {
	ChecksumWorkers int `yaml:"checksumworkers"`
}

// TLSCerts for mutual auth
type TLSCerts struct {
	CertFile   string `yaml:"certfile"`
	KeyFile    string `yaml:"keyfile"`
	CACertFile string `yaml:"cacertfile"`
}

// Available returns whether all required certs have been provided
func (t *TLSCerts) Available() bool {
	return t != nil && t.CACertFile != "" && t.CertFile != "" && t.KeyFile != ""
}

// ClientConfig loads the certs into a tls.Config for client connections
func (t *TLSCerts) ClientConfig() (*tls.Config, error) {
	if !t.Available() {
		return nil, fmt.Errorf("tls certs not configured")
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client key pair: %w", err)
	}
	ca, err := os.ReadFile(t.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("reading ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("no certificates found in %s", t.CACertFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Validate checks the configuration is usable before connecting to the broker
func (c *Configuration) Validate() error {
	var problems []string
	if c.AppName == "" {
		problems = append(problems, "appname is empty")
	}
	switch c.Broker {
	case BrokerPulsar, BrokerAMQP:
	default:
		problems = append(problems, fmt.Sprintf("unknown broker %q (expected %s or %s)", c.Broker, BrokerPulsar, BrokerAMQP))
	}
	if c.BrokerHost == "" {
		problems = append(problems, "broker host is empty")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		problems = append(problems, fmt.Sprintf("broker port %d out of range", c.BrokerPort))
	}
	if c.ConsumerTopic == "" || c.ProducerBagTopic == "" || c.ProducerSIPTopic == "" {
		problems = append(problems, "consumer and producer topics are required")
	}
	if c.Retry == nil {
		problems = append(problems, "retry config required")
	} else {
		if c.Retry.MaxAttempts < 1 {
			problems = append(problems, "retry max attempts must be at least 1")
		}
		if c.Retry.InitialDelay < 0 {
			problems = append(problems, "retry initial delay must not be negative")
		}
		if c.Retry.Multiplier < 1 {
			problems = append(problems, "retry multiplier must be at least 1")
		}
	}
	if c.Bag == nil || c.Bag.ChecksumWorkers < 1 {
		problems = append(problems, "bag checksum workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}
	return nil
}

// Secrets returns the configured secret values, used to scrub log output
func (c *Configuration) Secrets() []string {
	var secrets []string
	if c.AMQP != nil && c.AMQP.Password != "" {
		secrets = append(secrets, c.AMQP.Password)
	}
	return secrets
}

// RedactConfigSecrets strips sensitive data from the config
func RedactConfigSecrets(config *Configuration) Configuration {
	c := *config
	if !c.LogSensitiveConfig && c.AMQP != nil {
		amqp := *c.AMQP
		amqp.Username = redacted
		amqp.Password = redacted
		c.AMQP = &amqp
	}
	return c
}

// PrettyPrintStruct outputs the json form of the struct
func PrettyPrintStruct(item interface{}) string {
	b, _ := json.MarshalIndent(item, "", " ")
	return string(b)
}

package logger

import (
	"strings"

	"github.com/meemoo/sipin-sip-validator/internal/pkg/events"
	"github.com/meemoo/sipin-sip-validator/internal/pkg/messaging"
	log "github.com/sirupsen/logrus"
)

var redactedText = []byte("****")

// Configure sets the global logrus level and formatter, scrubbing secrets from the output
func Configure(level, format string, secrets []string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	raw := make([][]byte, 0, len(secrets))
	for _, s := range secrets {
		raw = append(raw, []byte(s))
	}
	redact := NewSecretRedact(raw, redactedText)

	if strings.ToLower(format) == "text" {
		log.SetFormatter(NewTextSecretRedactor(redact))
		return
	}
	log.SetFormatter(NewJSONSecretRedactor(redact))
}

//ForMessage adds context fields to the logger for the message
func ForMessage(message messaging.Message, l *log.Entry) *log.Entry {
	if message == nil {
		return l.WithField("inputError", "nil message provided to 'formessage' func")
	}
	return l.WithFields(log.Fields{
		"messageID":     message.ID(),
		"deliveryCount": message.DeliveryCount(),
	})
}

//ForEvent adds the event's correlation fields to the logger
func ForEvent(e events.Event, l *log.Entry) *log.Entry {
	return l.WithFields(log.Fields{
		"eventID":       e.ID,
		"eventType":     e.Type,
		"correlationID": e.CorrelationID,
		"subject":       e.Subject,
	})
}

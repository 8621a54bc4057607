package logger

import (
	"bytes"

	"github.com/sirupsen/logrus"
)

// RedactorFunc rewrites a serialized log entry
type RedactorFunc func([]byte) []byte

// Redactor wraps a logrus formatter and scrubs its output
type Redactor struct {
	backend logrus.Formatter

	Redactor RedactorFunc
}

// Format formats the entry with the backend then redacts it
func (redactor Redactor) Format(entry *logrus.Entry) ([]byte, error) {
	serialized, err := redactor.backend.Format(entry)

	if err == nil && redactor.Redactor != nil {
		serialized = redactor.Redactor(serialized)
	}

	return serialized, err
}

// NewJSONSecretRedactor returns a JSON formatter passing its output through fun
func NewJSONSecretRedactor(fun RedactorFunc) Redactor {
	return Redactor{
		backend:  &logrus.JSONFormatter{},
		Redactor: fun,
	}
}

// NewTextSecretRedactor returns a text formatter passing its output through fun
func NewTextSecretRedactor(fun RedactorFunc) Redactor {
	return Redactor{
		backend:  &logrus.TextFormatter{FullTimestamp: true},
		Redactor: fun,
	}
}

// NewSecretRedact replaces every occurrence of the secrets with redacted
func NewSecretRedact(secrets [][]byte, redacted []byte) RedactorFunc {
	return func(serialized []byte) []byte {
		out := serialized
		for _, s := range secrets {
			if len(s) == 0 {
				continue
			}
			out = bytes.Replace(out, s, redacted, -1)
		}
		return out
	}
}

package main

import (
	log "github.com/sirupsen/logrus"
)

func main() {
	validatorCmd := NewSIPValidatorCommand()

	if err := validatorCmd.Execute(); err != nil {
		log.Fatalf("sip-validator error: %v\n", err)
	}
}

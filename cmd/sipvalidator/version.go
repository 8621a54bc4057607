package main

import (
	"fmt"

	"github.com/meemoo/sipin-sip-validator/internal/app/sipvalidator"
	"github.com/spf13/cobra"
)

// NewVersionCommand prints the validator version
func NewVersionCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "version",
		Short: "Get sip-validator's version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println(sipvalidator.Version) },
	}
	return cmd
}

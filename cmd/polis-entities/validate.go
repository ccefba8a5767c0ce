package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-entities/pkg/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a configuration file against the schema and validation rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := parseCLIConfig(cmd)
			if err != nil {
				return err
			}
			if err := loadEnvFile(cli.EnvFile); err != nil {
				return err
			}

			cfg, err := config.Load(args[0])
			if err != nil {
				var schemaErr *config.SchemaError
				if errors.As(err, &schemaErr) {
					for _, v := range schemaErr.Violations {
						fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", v.Path, v.Message)
					}
				}
				return err
			}

			if _, err := newProcessorBuilder(nil, nil).Build(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (action=%s)\n", args[0], cfg.Processor.Action)
			return nil
		},
	}
}

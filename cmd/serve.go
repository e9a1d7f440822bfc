package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}

// errVerifyFailed is returned when verification finds a problem so the exit
// code is non-zero after the tables print.
var errVerifyFailed = errors.New("verification failed")

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check required tables and the LLM API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			v, err := appInstance.Verify(cmd.Context())
			if err != nil {
				return err
			}
			renderVerification(cmd.OutOrStdout(), v)
			if !v.OK() {
				return errVerifyFailed
			}
			return nil
		},
	}
}

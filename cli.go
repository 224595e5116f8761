package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const flagEnvFile = "env-file"

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "ballotgate",
		Short: "Session and rate limiting gateway for the election platform",
		RunE:  runServeCommand,
	}
	rootCommand.SilenceUsage = true
	rootCommand.PersistentFlags().StringSlice(flagEnvFile, []string{".env"}, "dotenv files loaded before reading the environment")
	rootCommand.AddCommand(newServeCommand())
	rootCommand.AddCommand(newGenerateSecretCommand())
	return rootCommand
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ballotgate HTTP server",
		RunE:  runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	envFiles, envFilesError := cmd.Flags().GetStringSlice(flagEnvFile)
	if envFilesError != nil {
		return envFilesError
	}
	if loadEnvError := loadDotEnv(envFiles...); loadEnvError != nil {
		return fmt.Errorf("config error: %w", loadEnvError)
	}
	gatewayConfig, loadConfigError := loadConfig()
	if loadConfigError != nil {
		return fmt.Errorf("config error: %w", loadConfigError)
	}

	application := newApplication(gatewayConfig)
	startContext, cancelStart := context.WithTimeout(cmd.Context(), fx.DefaultTimeout)
	defer cancelStart()
	if startError := application.Start(startContext); startError != nil {
		return fmt.Errorf("start error: %w", startError)
	}

	<-application.Done()

	stopContext, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if stopError := application.Stop(stopContext); stopError != nil {
		return fmt.Errorf("stop error: %w", stopError)
	}
	return nil
}

const secretByteLength = 32

func newGenerateSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-secret",
		Short: "Generate a session signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionSecret, sessionSecretError := generateRandomHex(secretByteLength)
			if sessionSecretError != nil {
				return fmt.Errorf("generate %s: %w", envKeySessionSecret, sessionSecretError)
			}
			if _, writeError := fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", envKeySessionSecret, sessionSecret); writeError != nil {
				return fmt.Errorf("write %s: %w", envKeySessionSecret, writeError)
			}
			return nil
		},
	}
}

var randomRead = rand.Read

func generateRandomHex(byteLength int) (string, error) {
	randomBytes := make([]byte, byteLength)
	if _, readError := randomRead(randomBytes); readError != nil {
		return "", fmt.Errorf("read random bytes: %w", readError)
	}
	return hex.EncodeToString(randomBytes), nil
}

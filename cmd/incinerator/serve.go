package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"Incinerator/internal/api"
	"Incinerator/internal/logger"
	"Incinerator/internal/signer"
	"Incinerator/internal/transition"
)

// newServeCmd runs the HTTP API until SIGINT or SIGTERM.
func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the proof prefetcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogLevel)

			return runServe(cmd, cfg)
		},
	}
}

// runServe wires the pipeline to the API. Signatures come from browser
// wallets through the relay unless a local key is configured.
func runServe(cmd *cobra.Command, cfg *Config) error {
	relay := signer.NewRelay()

	var (
		defaultSigner transition.Signer = relay
		apiRelay      api.SigningRelay  = relay
	)

	if cfg.KeyPath != "" {
		priv, err := loadOrGenerateKey(cfg.KeyPath)
		if err != nil {
			return fmt.Errorf("load key:\n%w", err)
		}

		kp := signer.NewKeypair(priv)
		defaultSigner = kp
		apiRelay = nil

		logger.Info("signing with local key", "owner", kp.Address())
	}

	a, err := newApp(commandContext(cmd), cfg, defaultSigner)
	if err != nil {
		return fmt.Errorf("init:\n%w", err)
	}
	defer a.Close()

	printStartupInfo(cfg)

	a.pipeline.Start()

	server := api.New(cfg.HTTPAddress, a.pipeline, apiRelay)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start http api:\n%w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	return nil
}

// printStartupInfo displays the configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting incinerator",
		"version", Version,
		"http", cfg.HTTPAddress,
		"indexer", cfg.IndexerURL,
		"ledger", cfg.LedgerURL,
		"data", cfg.DataPath,
		"authorities", len(cfg.Authorities),
		"strict", cfg.StrictAuthority,
		"simulate", cfg.Simulate,
	)
}

// newKeygenCmd writes a fresh key file and prints its address.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <path>",
		Short: "Generate an Ed25519 key file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}

			priv, err := generateAndSaveKey(args[0])
			if err != nil {
				return err
			}

			kp := signer.NewKeypair(priv)
			fmt.Fprintln(cmd.OutOrStdout(), kp.Address())

			return nil
		},
	}
}

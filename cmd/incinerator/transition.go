package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"Incinerator/internal/asset"
	"Incinerator/internal/logger"
	"Incinerator/internal/signer"
	"Incinerator/internal/transition"
)

// newTransitionCmd disposes of one asset with the local owner key.
// name is "burn" or "transfer".
func newTransitionCmd(cfg *Config, name string) *cobra.Command {
	kind, err := asset.ParseKind(name)
	if err != nil {
		panic(err)
	}

	short := "Burn a compressed asset"
	if kind == asset.KindTransferToSink {
		short = "Transfer a compressed asset to the sink"
	}

	return &cobra.Command{
		Use:   name + " <asset-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogLevel)

			return runTransition(cmd, cfg, args[0], kind)
		},
	}
}

// runTransition executes one transition and prints its result.
// Interrupting while the signature is pending cancels the request.
func runTransition(cmd *cobra.Command, cfg *Config, idStr string, kind asset.Kind) error {
	id, err := asset.ParseID(idStr)
	if err != nil {
		return fmt.Errorf("invalid asset id %q:\n%w", idStr, err)
	}

	if cfg.KeyPath == "" {
		return fmt.Errorf("--key is required to sign")
	}

	priv, err := loadKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	kp := signer.NewKeypair(priv)

	a, err := newApp(commandContext(cmd), cfg, kp)
	if err != nil {
		return fmt.Errorf("init:\n%w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	res := a.pipeline.RequestTransition(ctx, id, kp.Address(), kind)

	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}

	if res.Status == transition.StatusFailed {
		return fmt.Errorf("%s failed at %s: %s", kind, res.Stage, res.Code)
	}

	return nil
}

// newProofCmd prints the current Merkle proof of an asset.
func newProofCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "proof <asset-id>",
		Short: "Fetch and verify the Merkle proof of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogLevel)

			id, err := asset.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset id %q:\n%w", args[0], err)
			}

			a, err := newApp(commandContext(cmd), cfg, nil)
			if err != nil {
				return fmt.Errorf("init:\n%w", err)
			}
			defer a.Close()

			proof, err := a.pipeline.Proof(commandContext(cmd), id)
			if err != nil {
				return err
			}

			if err := proof.Validate(); err != nil {
				return fmt.Errorf("proof of %s:\n%w", id, err)
			}

			return printJSON(cmd.OutOrStdout(), proof)
		},
	}
}

// newAssetsCmd lists the compressed assets a wallet owns.
func newAssetsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "assets <wallet>",
		Short: "List compressed assets owned by a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(cfg.LogLevel)

			owner, err := asset.ParseAddress(args[0])
			if err != nil {
				return fmt.Errorf("invalid wallet %q:\n%w", args[0], err)
			}

			a, err := newApp(commandContext(cmd), cfg, nil)
			if err != nil {
				return fmt.Errorf("init:\n%w", err)
			}
			defer a.Close()

			assets, err := a.pipeline.Assets(commandContext(cmd), owner)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), assets)
		},
	}
}

// commandContext returns the command context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

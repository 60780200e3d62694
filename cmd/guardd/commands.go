package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pushchain/bridge-guard/guard/config"
	"github.com/pushchain/bridge-guard/guard/logger"
	"github.com/pushchain/bridge-guard/guard/node"
	"github.com/pushchain/bridge-guard/guard/signer"
	"github.com/pushchain/bridge-guard/guard/transport/libp2p"
)

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(queryCmd())
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(homeFlag)
			if err != nil {
				return err
			}
			resolveNodeHome(&cfg)
			log := logger.Init(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Chain drivers are linked in by network specific builds.
			guard, err := node.New(cfg, node.Options{}, log)
			if err != nil {
				return err
			}
			return guard.Run(ctx)
		},
	}
}

func initCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration with fresh guard and p2p keys",
		Long: `
Write <home>/config/guard_config.json from the built-in defaults. A new guard signing key and
p2p identity are generated, and the guard set is initialised with this guard only. Add the other
guards' public keys, peer ids and addresses before starting.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(homeFlag); err == nil && !overwrite {
				return fmt.Errorf("config already exists in %s, use --overwrite to replace it", homeFlag)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}

			guardKey, err := signer.Generate()
			if err != nil {
				return err
			}
			seed := make([]byte, 32)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("failed to generate p2p key: %w", err)
			}
			seedHex := hex.EncodeToString(seed)
			peerID, err := libp2p.PeerIDFromSeed(seedHex)
			if err != nil {
				return err
			}

			cfg.NodeHome = homeFlag
			cfg.PrivateKeyHex = guardKey.PrivateKeyHex()
			cfg.P2PPrivateKeyHex = seedHex
			cfg.Guards = []config.GuardPeer{{PublicKey: guardKey.PublicKeyHex(), PeerID: peerID}}
			cfg.GuardIndex = 0

			if err := config.Save(cfg, homeFlag); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config written to %s\n", homeFlag)
			fmt.Fprintf(out, "Guard public key: %s\n", guardKey.PublicKeyHex())
			fmt.Fprintf(out, "P2P peer id:      %s\n", peerID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing config")
	return cmd
}

// resolveNodeHome falls back to --home and expands a leading ~.
func resolveNodeHome(cfg *config.Config) {
	switch {
	case cfg.NodeHome == "":
		cfg.NodeHome = homeFlag
	case strings.HasPrefix(cfg.NodeHome, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			cfg.NodeHome = filepath.Join(home, cfg.NodeHome[2:])
		}
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print guardd version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Name:       %s\n", "guardd")
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", Commit)
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pushchain/bridge-guard/guard/config"
	"github.com/pushchain/bridge-guard/guard/signer"
	"github.com/pushchain/bridge-guard/guard/transport/libp2p"
)

// keysCmd returns the keys command with all subcommands
func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and create guard keys",
	}
	cmd.AddCommand(keysShowCmd())
	cmd.AddCommand(keysGenerateCmd())
	return cmd
}

// keysShowCmd prints the public identity derived from the configured keys
func keysShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show this guard's public key and p2p peer id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(homeFlag)
			if err != nil {
				return err
			}
			guardKey, err := signer.New(cfg.PrivateKeyHex)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Guard index:      %d\n", cfg.GuardIndex)
			fmt.Fprintf(out, "Guard public key: %s\n", guardKey.PublicKeyHex())
			if cfg.P2PPrivateKeyHex != "" {
				peerID, err := libp2p.PeerIDFromSeed(cfg.P2PPrivateKeyHex)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "P2P peer id:      %s\n", peerID)
			}
			return nil
		},
	}
}

// keysGenerateCmd creates a new guard signing key without touching the config
func keysGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a new guard signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			guardKey, err := signer.Generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", guardKey.PrivateKeyHex())
			fmt.Fprintf(out, "Public key:  %s\n", guardKey.PublicKeyHex())
			return nil
		},
	}
}

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/spf13/cobra"

	"github.com/geanlabs/gravity/config"
	"github.com/geanlabs/gravity/sigverify"
)

var (
	flagConfigOut string
	flagKeyOut    string
	flagForce     bool
	flagBridgeID  string
	flagScheme    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := refuseOverwrite(flagConfigOut); err != nil {
			return err
		}
		cfg := config.Default()
		cfg.BridgeID = flagBridgeID
		cfg.Genesis = "genesis.json"
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagConfigOut, data, 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flagConfigOut)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a validator signing key and print its address",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := refuseOverwrite(flagKeyOut); err != nil {
			return err
		}
		if err := writeKey(flagScheme, flagKeyOut); err != nil {
			return err
		}
		signer, err := sigverify.LoadSigner(flagScheme, flagKeyOut)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&flagConfigOut, "out", "gravity.yaml", "config file to write")
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&flagBridgeID, "bridge-id", "0x01", "bridge instance id (hex bytes32)")

	keygenCmd.Flags().StringVar(&flagKeyOut, "out", "validator.key", "key file to write")
	keygenCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")
	keygenCmd.Flags().StringVar(&flagScheme, "scheme", sigverify.SchemeECDSA, "signature scheme (ecdsa, ed25519)")
}

func refuseOverwrite(path string) error {
	if flagForce {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s exists (use --force to overwrite)", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeKey(scheme, path string) error {
	switch scheme {
	case sigverify.SchemeECDSA:
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		return crypto.SaveECDSA(path, key)
	case sigverify.SchemeEd25519:
		key, _, err := p2pcrypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return err
		}
		raw, err := p2pcrypto.MarshalPrivateKey(key)
		if err != nil {
			return err
		}
		return os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600)
	default:
		return fmt.Errorf("unknown signature scheme %q", scheme)
	}
}

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shoplane/factsync/src/config"
	"github.com/shoplane/factsync/src/crypto/keys"
)

// NewKeygenCmd produces a KeygenCmd which create a key pair
func NewKeygenCmd(cli *CLIConfig) *cobra.Command {
	var privKeyFile, pubKeyFile string

	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Create the device key pair",
		PreRunE: loadConfig(cli),
		RunE: func(cmd *cobra.Command, args []string) error {
			if privKeyFile == "" {
				privKeyFile = cli.Factsync.Keyfile()
			}
			if pubKeyFile == "" {
				pubKeyFile = filepath.Join(cli.Factsync.DataDir, config.DefaultPubKeyfile)
			}
			return keygen(cmd, privKeyFile, pubKeyFile)
		},
	}

	cmd.Flags().StringVar(&privKeyFile, "priv", "", "File where the private key will be written (default <datadir>/priv_key)")
	cmd.Flags().StringVar(&pubKeyFile, "pub", "", "File where the public key will be written (default <datadir>/key.pub)")

	return cmd
}

func keygen(cmd *cobra.Command, privKeyFile, pubKeyFile string) error {
	if _, err := os.Stat(privKeyFile); err == nil {
		return fmt.Errorf("a key already lives under: %s", filepath.Dir(privKeyFile))
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return fmt.Errorf("generating ECDSA key: %w", err)
	}

	if err := keys.NewSimpleKeyfile(privKeyFile).WriteKey(key); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Your private key has been saved to: %s\n", privKeyFile)

	if err := os.MkdirAll(filepath.Dir(pubKeyFile), 0700); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	pub := keys.PublicKeyHex(&key.PublicKey)

	if err := os.WriteFile(pubKeyFile, []byte(pub), 0600); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	fmt.Fprintf(out, "Your public key has been saved to: %s\n", pubKeyFile)
	fmt.Fprintf(out, "Device ID: %s\n", keys.DeviceID(&key.PublicKey))

	return nil
}

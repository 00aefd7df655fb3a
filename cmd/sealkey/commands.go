package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felipepmaragno/keyring-gateway/internal/auth"
	"github.com/felipepmaragno/keyring-gateway/internal/crypto"
	"github.com/spf13/cobra"
)

var secretFlag string

var rootCmd = &cobra.Command{
	Use:           "sealkey",
	Short:         "Encrypt provider API keys and hash gateway keys",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var sealCmd = &cobra.Command{
	Use:   "seal [api-key]",
	Short: "Encrypt an API key for storage",
	Long: `Encrypt a provider API key with the gateway's encryption secret.

The key is read from the argument or, when absent, from stdin. The output
is the base64 payload stored in api_keys.encrypted_key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := resolveSecret()
		if err != nil {
			return err
		}
		plaintext, err := argOrStdin(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		sealed, err := crypto.Encrypt(plaintext, secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open [payload]",
	Short: "Check that a stored payload decrypts",
	Long: `Decrypt a stored payload and print the key's fingerprint.

The plaintext is never printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := resolveSecret()
		if err != nil {
			return err
		}
		payload, err := argOrStdin(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		plaintext, err := crypto.Decrypt(payload, secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", crypto.Fingerprint(plaintext))
		return nil
	},
}

var hashCmd = &cobra.Command{
	Use:   "hash [gateway-key]",
	Short: "Bcrypt a gateway key for GATEWAY_API_KEY_HASH",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := argOrStdin(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}

		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&secretFlag, "secret", "", "encryption secret (default $AI_GATEWAY_ENCRYPTION_KEY or $ENCRYPTION_KEY)")
	rootCmd.AddCommand(sealCmd, openCmd, hashCmd)
}

func resolveSecret() (string, error) {
	for _, v := range []string{secretFlag, os.Getenv("AI_GATEWAY_ENCRYPTION_KEY"), os.Getenv("ENCRYPTION_KEY")} {
		if v != "" {
			return v, nil
		}
	}
	return "", crypto.ErrMissingSecret
}

func argOrStdin(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no input: pass a value or pipe it on stdin")
	}
	return line, nil
}

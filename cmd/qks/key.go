package main

import (
	"fmt"

	"github.com/spf13/cobra"

	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

func (a *app) keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Key management commands",
		Long:  `Commands for generating and managing cryptographic keys.`,
	}
	cmd.AddCommand(a.keyGenCmd())
	return cmd
}

func (a *app) keyGenCmd() *cobra.Command {
	var algorithm, out, passwordEnv string
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a key pair as PKCS#8 PEM",
		Long: `Generate a new key pair and write its private key as PKCS#8 PEM.

Supported algorithms:
  Signature:      ecdsa-p256, ecdsa-p384, ecdsa-p521, ed25519, ml-dsa-44/65/87
  Key transport:  rsa-2048, rsa-3072, rsa-4096, elgamal-2048, ml-kem-512/768/1024
  Key agreement:  x25519, ecdh-p256, ecdh-p384

With --password-env the key is written as an encrypted PKCS#8 block
(classical key types only).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := qcrypto.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			kp, err := qcrypto.GenerateKeyPair(alg)
			if err != nil {
				return err
			}
			if err := writeKeyPair(out, kp, passwordEnv); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s key written to %s\n", alg, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", string(qcrypto.AlgECDSAP256), "Key algorithm")
	cmd.Flags().StringVar(&out, "out", "", "Output file (required)")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "Variable holding the password encrypting the output")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

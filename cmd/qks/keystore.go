package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/keystore"
	"github.com/remiblancher/qkeystore/internal/x509util"
)

func (a *app) keystoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keystore",
		Aliases: []string{"ks"},
		Short:   "Keystore container management",
		Long: `Commands for listing, importing, exporting and deleting keystore entries.

Entries are kept in an encrypted bbolt container whose password is read
from $QKS_PASSWORD. Private keys are sealed again under their entry password.`,
	}
	cmd.AddCommand(a.keystoreListCmd())
	cmd.AddCommand(a.keystoreDeleteCmd())
	cmd.AddCommand(a.keystoreImportCertCmd())
	cmd.AddCommand(a.keystoreImportKeyCmd())
	cmd.AddCommand(a.keystoreExportKeyCmd())
	cmd.AddCommand(a.keystoreExportCertCmd())
	return cmd
}

func (a *app) keystoreListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keystore entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(ks *keystore.KeyStore) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "ALIAS\tKIND\tSUBJECT\tNOT AFTER")
				for _, alias := range ks.Aliases() {
					e, err := ks.Entry(alias)
					if err != nil {
						continue
					}
					subject, notAfter := "-", "-"
					if len(e.CertificateKeys()) > 0 {
						if chain, err := ks.CertificateChain(alias); err == nil && len(chain) > 0 {
							subject = displayName(chain[0])
							notAfter = chain[0].NotAfter().UTC().Format("2006-01-02")
						}
					}
					_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", alias, e.Kind(), subject, notAfter)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) keystoreDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <alias>",
		Short: "Delete an entry and the certificates only it referenced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.mutate(cmd.Context(), func(ks *keystore.KeyStore) error {
				if err := ks.DeleteEntry(args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *app) keystoreImportCertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-cert <alias> <file>",
		Short: "Store a certificate as a trust anchor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCertificate(args[1])
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ks *keystore.KeyStore) error {
				if err := ks.SetCertificate(args[0], c); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored trust anchor %s (%s)\n", args[0], displayName(c))
				return nil
			})
		},
	}
}

func (a *app) keystoreImportKeyCmd() *cobra.Command {
	var keyFile, keyPasswordEnv, chainFile string
	cmd := &cobra.Command{
		Use:   "import-key <alias>",
		Short: "Store a PKCS#8 private key with its certificate chain",
		Long: `Store a PKCS#8 PEM private key with its certificate chain (leaf first).

The chain is validated before storing: each certificate must be issued by
the next, and the last one must be self-signed or a stored trust anchor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := readKeyPair(keyFile, keyPasswordEnv)
			if err != nil {
				return err
			}
			chain, err := readCertificates(chainFile)
			if err != nil {
				return err
			}
			password, err := a.entryPasswords().Password(args[0])
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ks *keystore.KeyStore) error {
				if err := ks.SetPrivateKeyEntry(args[0], kp, password, chain); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored private key %s (%s)\n", args[0], kp.Algorithm)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "PKCS#8 PEM private key file (required)")
	cmd.Flags().StringVar(&keyPasswordEnv, "key-password-env", "", "Variable holding the key file password")
	cmd.Flags().StringVar(&chainFile, "chain", "", "PEM certificate chain, leaf first (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func (a *app) keystoreExportKeyCmd() *cobra.Command {
	var out, outPasswordEnv string
	cmd := &cobra.Command{
		Use:   "export-key <alias>",
		Short: "Write the private key of an entry as PKCS#8 PEM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := a.entryPasswords().Password(args[0])
			if err != nil {
				return err
			}
			return a.view(cmd.Context(), func(ks *keystore.KeyStore) error {
				kp, err := ks.PrivateKey(args[0], password)
				if err != nil {
					return err
				}
				if err := writeKeyPair(out, kp, outPasswordEnv); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Private key written to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (required)")
	cmd.Flags().StringVar(&outPasswordEnv, "out-password-env", "", "Variable holding the password encrypting the output")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) keystoreExportCertCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-cert <alias>",
		Short: "Write the certificate chain of an entry as PEM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.view(cmd.Context(), func(ks *keystore.KeyStore) error {
				chain, err := ks.CertificateChain(args[0])
				if err != nil {
					return err
				}
				if err := writeCertificates(out, chain); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d certificate(s) written to %s\n", len(chain), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func displayName(c *certificate.Certificate) string {
	if s, err := x509util.CanonicalName(c.RawSubject()); err == nil {
		return s
	}
	return c.Subject().String()
}

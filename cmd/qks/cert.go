package main

import (
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

// subjectFlags collects the distinguished name of a new certificate.
type subjectFlags struct {
	cn, org, orgUnit, country string
}

func (s *subjectFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.cn, "cn", "", "Subject common name (required)")
	cmd.Flags().StringVar(&s.org, "org", "", "Subject organization")
	cmd.Flags().StringVar(&s.orgUnit, "ou", "", "Subject organizational unit")
	cmd.Flags().StringVar(&s.country, "country", "", "Subject country")
	_ = cmd.MarkFlagRequired("cn")
}

func (s *subjectFlags) name() pkix.Name {
	n := pkix.Name{CommonName: s.cn}
	if s.org != "" {
		n.Organization = []string{s.org}
	}
	if s.orgUnit != "" {
		n.OrganizationalUnit = []string{s.orgUnit}
	}
	if s.country != "" {
		n.Country = []string{s.country}
	}
	return n
}

func (a *app) certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate creation commands",
		Long:  `Commands for creating self-signed roots and issuing certificates from stored signers.`,
	}
	cmd.AddCommand(a.certSelfSignCmd())
	cmd.AddCommand(a.certIssueCmd())
	return cmd
}

func (a *app) certSelfSignCmd() *cobra.Command {
	var (
		subject   subjectFlags
		algorithm string
		usage     string
		anchor    string
		validity  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "selfsign <alias>",
		Short: "Create a self-signed root and store its key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := qcrypto.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			u, err := certificate.ParseUsage(usage)
			if err != nil {
				return err
			}
			password, err := a.entryPasswords().Password(args[0])
			if err != nil {
				return err
			}
			kp, err := qcrypto.GenerateKeyPair(alg)
			if err != nil {
				return err
			}
			root, err := certificate.CreateSelfSigned(kp, subject.name(), &certificate.Options{
				Validity: validity,
				Usage:    u,
			})
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ks *keystore.KeyStore) error {
				if anchor != "" {
					if err := ks.SetCertificate(anchor, root); err != nil {
						return err
					}
				}
				if err := ks.SetPrivateKeyEntry(args[0], kp, password, []*certificate.Certificate{root}); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created %s root %s (serial %s)\n",
					alg, displayName(root), root.SerialNumber().Text(16))
				return nil
			})
		},
	}
	subject.register(cmd)
	cmd.Flags().StringVar(&algorithm, "algorithm", string(qcrypto.AlgECDSAP384), "Key algorithm (must sign)")
	cmd.Flags().StringVar(&usage, "usage", "", "Extra key usages, comma separated")
	cmd.Flags().StringVar(&anchor, "anchor", "", "Also store the root as a trust anchor under this alias")
	cmd.Flags().DurationVar(&validity, "validity", 10*365*24*time.Hour, "Validity period")
	return cmd
}

func (a *app) certIssueCmd() *cobra.Command {
	var (
		subject   subjectFlags
		signer    string
		algorithm string
		usage     string
		validity  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue <alias>",
		Short: "Generate a key, issue its certificate from a stored signer and store both",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := qcrypto.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			u, err := certificate.ParseUsage(usage)
			if err != nil {
				return err
			}
			password, err := a.entryPasswords().Password(args[0])
			if err != nil {
				return err
			}
			kp, err := qcrypto.GenerateKeyPair(alg)
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ks *keystore.KeyStore) error {
				chain, err := ks.Issue(signer, keystore.IssueRequest{
					Subject:   subject.name(),
					PublicKey: kp.PublicKey,
					Usage:     u,
					Validity:  validity,
				})
				if err != nil {
					return err
				}
				if err := ks.SetPrivateKeyEntry(args[0], kp, password, chain); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Issued %s certificate %s (serial %s) under %s\n",
					alg, displayName(chain[0]), chain[0].SerialNumber().Text(16), signer)
				return nil
			})
		},
	}
	subject.register(cmd)
	cmd.Flags().StringVar(&signer, "signer", "", "Alias of the issuing entry (required)")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(qcrypto.AlgECDSAP256), "Key algorithm")
	cmd.Flags().StringVar(&usage, "usage", "sign-data", "Key usages, comma separated")
	cmd.Flags().DurationVar(&validity, "validity", certificate.DefaultValidity, "Validity period")
	_ = cmd.MarkFlagRequired("signer")
	return cmd
}

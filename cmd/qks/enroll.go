package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qkeystore/internal/certificate"
	"github.com/remiblancher/qkeystore/internal/crmf"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
	"github.com/remiblancher/qkeystore/internal/keystore"
)

// pinEnv names the variable holding the PKCS#11 user PIN.
const pinEnv = "QKS_PKCS11_PIN"

func (a *app) enrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Certificate enrollment with proof of possession",
		Long: `Build, answer and accept certificate enrollment messages.

The proof of possession is chosen from the requester key:
  signing keys             sign the certificate template
  KEM / key-transport keys envelope the private key to --target
  key-agreement keys       envelope the private key under ECDH with --target

When $QKS_MAC_SECRET is set, requests carry a password-based MAC and
responders require it.`,
	}
	cmd.AddCommand(a.enrollRequestCmd())
	cmd.AddCommand(a.enrollRespondCmd())
	cmd.AddCommand(a.enrollAcceptCmd())
	return cmd
}

func (a *app) enrollRequestCmd() *cobra.Command {
	var (
		subject        subjectFlags
		keyFile        string
		keyPasswordEnv string
		usage          string
		targetFile     string
		renewFile      string
		out            string
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Build a DER enrollment request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := readKeyPair(keyFile, keyPasswordEnv)
			if err != nil {
				return err
			}
			var target *certificate.Certificate
			if targetFile != "" {
				if target, err = readCertificate(targetFile); err != nil {
					return err
				}
			}

			b := &crmf.Builder{
				MACSecret:     a.cfg.Enrollment.MACSecret(),
				PBMIterations: a.cfg.Enrollment.PBMIterations,
				Logger:        a.log,
			}
			var req *crmf.Request
			if renewFile != "" {
				local, err := readCertificate(renewFile)
				if err != nil {
					return err
				}
				req, err = b.BuildFromCertificate(kp, local, target)
				if err != nil {
					return err
				}
			} else {
				if subject.cn == "" {
					return fmt.Errorf("--cn is required unless --renew is given")
				}
				u, err := certificate.ParseUsage(usage)
				if err != nil {
					return err
				}
				req, err = b.Build(kp, target, crmf.Template{Subject: subject.name(), Usage: u})
				if err != nil {
					return err
				}
			}

			der, err := req.Marshal()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, der, 0644); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Request %d (%s proof) written to %s\n", req.ID(), req.POP().Strategy, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject.cn, "cn", "", "Subject common name")
	cmd.Flags().StringVar(&subject.org, "org", "", "Subject organization")
	cmd.Flags().StringVar(&subject.orgUnit, "ou", "", "Subject organizational unit")
	cmd.Flags().StringVar(&subject.country, "country", "", "Subject country")
	cmd.Flags().StringVar(&keyFile, "key", "", "PKCS#8 PEM private key of the requester (required)")
	cmd.Flags().StringVar(&keyPasswordEnv, "key-password-env", "", "Variable holding the key file password")
	cmd.Flags().StringVar(&usage, "usage", "", "Requested key usages, comma separated")
	cmd.Flags().StringVar(&targetFile, "target", "", "Certificate the private key is enveloped to (non-signing keys)")
	cmd.Flags().StringVar(&renewFile, "renew", "", "Current certificate to renew; copies its subject, usage and extensions")
	cmd.Flags().StringVar(&out, "out", "", "Output DER file (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) enrollRespondCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Verify a DER request and issue its certificate offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			der, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			return a.view(cmd.Context(), func(ks *keystore.KeyStore) error {
				responder, closeSigner, err := a.newResponder(ks)
				if err != nil {
					return err
				}
				defer closeSigner()

				resp, req, err := responder.HandleDER(cmd.Context(), der)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, resp, 0644); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Request %d (%s proof) for %s answered in %s\n",
					req.ID(), req.POP().Strategy, req.Subject().String(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "DER request file (required)")
	cmd.Flags().StringVar(&out, "out", "", "Output DER response file (required)")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) enrollAcceptCmd() *cobra.Command {
	var in, keyFile, keyPasswordEnv, anchorFile, out string
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Decrypt and validate a DER response and write the chain as PEM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			der, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			resp, err := crmf.ParseResponse(der)
			if err != nil {
				return err
			}
			kp, err := readKeyPair(keyFile, keyPasswordEnv)
			if err != nil {
				return err
			}
			if resp.Encrypted() {
				if err := resp.Decrypt(kp.PrivateKey, nil); err != nil {
					return err
				}
			}
			anchors, err := readCertificates(anchorFile)
			if err != nil {
				return err
			}
			isTrusted := func(c *certificate.Certificate) bool {
				for _, anchor := range anchors {
					if anchor.Equal(c) {
						return true
					}
				}
				return false
			}
			if err := resp.Validate(kp.PublicKey, isTrusted); err != nil {
				return err
			}
			chain, err := resp.Chain()
			if err != nil {
				return err
			}
			if err := writeCertificates(out, chain); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Certificate %s written to %s\n", displayName(chain[0]), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "DER response file (required)")
	cmd.Flags().StringVar(&keyFile, "key", "", "PKCS#8 PEM private key of the requester (required)")
	cmd.Flags().StringVar(&keyPasswordEnv, "key-password-env", "", "Variable holding the key file password")
	cmd.Flags().StringVar(&anchorFile, "anchor", "", "PEM trust anchors (required)")
	cmd.Flags().StringVar(&out, "out", "", "Output PEM chain (required)")
	for _, f := range []string{"in", "key", "anchor", "out"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// newResponder builds the enrollment responder from the configuration. The
// returned function releases the HSM session when one was opened.
func (a *app) newResponder(ks *keystore.KeyStore) (*crmf.Responder, func(), error) {
	e := a.cfg.Enrollment
	r := &crmf.Responder{
		KeyStore:         ks,
		SignerAlias:      e.SignerAlias,
		Passwords:        a.entryPasswords(),
		MACSecret:        e.MACSecret(),
		MaxPBMIterations: e.MaxPBMIterations,
		EncryptResponse:  e.EncryptResponses,
		AllowCA:          e.AllowCA,
		Validity:         e.Validity,
		Logger:           a.log,
		Audit:            a.audit,
	}
	if !e.PKCS11.Enabled() {
		return r, func() {}, nil
	}

	hsm := e.PKCS11
	hsm.PIN = os.Getenv(pinEnv)
	signer, err := qcrypto.NewPKCS11Signer(hsm)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PKCS#11 signer: %w", err)
	}
	chain, err := ks.CertificateChain(e.SignerAlias)
	if err != nil {
		_ = signer.Close()
		return nil, nil, err
	}
	if !qcrypto.PublicKeysEqual(signer.Public(), chain[0].PublicKey()) {
		_ = signer.Close()
		return nil, nil, fmt.Errorf("PKCS#11 key does not match the certificate of %q", e.SignerAlias)
	}
	r.Signer = signer
	a.log.Info("issuing with PKCS#11 key", "module", hsm.ModulePath, "token", hsm.TokenLabel)
	return r, func() { _ = signer.Close() }, nil
}

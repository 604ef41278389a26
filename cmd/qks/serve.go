package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remiblancher/qkeystore/internal/api/handler"
	"github.com/remiblancher/qkeystore/internal/api/router"
	"github.com/remiblancher/qkeystore/internal/api/server"
	"github.com/remiblancher/qkeystore/internal/api/service"
	"github.com/remiblancher/qkeystore/internal/metrics"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the enrollment HTTP server",
		Long: `Start the enrollment HTTP server.

The keystore is loaded once at startup and served from memory; the
container lock is released after loading. Issuance does not modify the
keystore.

Endpoints:
  POST /api/v1/enroll                   DER enrollment request (application/pkcs-crmf)
  GET  /api/v1/keystore/aliases         List entries
  GET  /api/v1/keystore/aliases/{alias} Show one entry
  GET  /api/v1/keystore/anchors         List trust anchors
  GET  /health, /ready, /metrics`,
		Example: `  QKS_PASSWORD=... QKS_MAC_SECRET=... qks serve --keystore qks.db --port 8443`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ks, store, err := a.openKeyStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}

			responder, closeSigner, err := a.newResponder(ks)
			if err != nil {
				return err
			}
			defer closeSigner()

			m, err := metrics.New(ks)
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			signerAlias := a.cfg.Enrollment.SignerAlias
			h := router.New(&router.Config{
				Version:  version,
				Logger:   a.log,
				Enroll:   service.NewEnrollService(responder, m),
				KeyStore: service.NewKeyStoreService(ks),
				Metrics:  m,
				Ready: map[string]handler.ReadinessCheck{
					"signer": func() bool {
						_, err := ks.CertificateChain(signerAlias)
						return err == nil
					},
				},
				MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
			})

			a.log.Info("keystore loaded",
				"path", a.cfg.KeyStore.Path,
				"entries", ks.Size(),
				"signer", signerAlias,
				"encrypt_responses", a.cfg.Enrollment.EncryptResponses,
				"mac_required", responder.MACSecret != nil)
			return server.New(a.cfg.Server, h, a.log).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("host", "", "Listen host")
	f.Int("port", 0, "Listen port (default from config, 8443)")
	f.String("signer", "", "Alias of the issuing private-key entry")
	f.Bool("encrypt-responses", false, "Envelope issued certificates to the requester key")
	f.Bool("allow-ca", false, "Allow requests for certify usage")
	_ = a.v.BindPFlag("server.host", f.Lookup("host"))
	_ = a.v.BindPFlag("server.port", f.Lookup("port"))
	_ = a.v.BindPFlag("enrollment.signer_alias", f.Lookup("signer"))
	_ = a.v.BindPFlag("enrollment.encrypt_responses", f.Lookup("encrypt-responses"))
	_ = a.v.BindPFlag("enrollment.allow_ca", f.Lookup("allow-ca"))
	return cmd
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remiblancher/qkeystore/internal/audit"
	"github.com/remiblancher/qkeystore/internal/config"
	"github.com/remiblancher/qkeystore/internal/keystore"
	"github.com/remiblancher/qkeystore/internal/keystore/persist"
)

// envPrefix prefixes every environment override, e.g. QKS_KEYSTORE_PATH.
const envPrefix = "QKS"

// app carries the state shared by every subcommand of one invocation.
type app struct {
	v     *viper.Viper
	cfg   *config.Config
	log   *slog.Logger
	audit *audit.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "qks",
		Short: "qkeystore - certificate keystore with proof-of-possession enrollment",
		Long: `qks manages an encrypted keystore container (private keys, certificate
chains, trust anchors) and answers certificate enrollment requests whose
proof of possession is a signature, an enveloped private key or a key
agreement.

The container password is read from $QKS_PASSWORD and entry passwords from
$QKS_ENTRY_PASSWORD (or $QKS_ENTRY_PASSWORD_<ALIAS>). Paths, log settings,
the signer alias and server options can be overridden from the environment,
e.g. QKS_SERVER_PORT=9443 or QKS_ENROLLMENT_ENCRYPT_RESPONSES=true.

Examples:
  # Create a root CA and an issuing key
  qks cert selfsign root-ca --algorithm ecdsa-p384 --cn "Example Root" --anchor root
  qks cert issue signer --signer root-ca --algorithm ml-dsa-65 --cn "Example Issuer" --usage certify,sign-data

  # Build a request for a KEM key, enveloped to a target certificate
  qks enroll request --key kem.pem --cn client --target target.pem --out req.der

  # Serve enrollment over HTTP
  qks serve --port 8443`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.audit.Close()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to YAML configuration file (or set QKS_CONFIG)")
	pf.String("keystore", "", "Path to the keystore container")
	pf.String("audit-log", "", "Path to audit log file")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: text, json")
	_ = a.v.BindPFlag("config", pf.Lookup("config"))
	_ = a.v.BindPFlag("keystore.path", pf.Lookup("keystore"))
	_ = a.v.BindPFlag("audit.path", pf.Lookup("audit-log"))
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(a.keystoreCmd())
	root.AddCommand(a.keyCmd())
	root.AddCommand(a.certCmd())
	root.AddCommand(a.enrollCmd())
	root.AddCommand(a.serveCmd())
	root.AddCommand(a.auditCmd())
	return root
}

// init loads the configuration file and applies flag and environment
// overrides, then opens the loggers.
func (a *app) init(cmd *cobra.Command) error {
	cfg := config.Default()
	if path := a.v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	overrideString(a.v, "keystore.path", &cfg.KeyStore.Path)
	overrideString(a.v, "audit.path", &cfg.Audit.Path)
	overrideString(a.v, "log.level", &cfg.Log.Level)
	overrideString(a.v, "log.format", &cfg.Log.Format)
	overrideString(a.v, "enrollment.signer_alias", &cfg.Enrollment.SignerAlias)
	overrideString(a.v, "server.host", &cfg.Server.Host)
	if a.v.IsSet("server.port") {
		cfg.Server.Port = a.v.GetInt("server.port")
	}
	if a.v.IsSet("enrollment.encrypt_responses") {
		cfg.Enrollment.EncryptResponses = a.v.GetBool("enrollment.encrypt_responses")
	}
	if a.v.IsSet("enrollment.allow_ca") {
		cfg.Enrollment.AllowCA = a.v.GetBool("enrollment.allow_ca")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.log = log

	if cfg.Audit.Path != "" {
		al, err := audit.NewFile(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		a.audit = al
	}
	return nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
}

// entryPasswords resolves entry passwords from $QKS_ENTRY_PASSWORD_<ALIAS>,
// falling back to the configured shared variable.
func (a *app) entryPasswords() keystore.PasswordResolver {
	return keystore.PasswordFunc(func(alias string) ([]byte, error) {
		if v := os.Getenv(a.cfg.KeyStore.EntryPasswordEnv + "_" + envSuffix(alias)); v != "" {
			return []byte(v), nil
		}
		if v := os.Getenv(a.cfg.KeyStore.EntryPasswordEnv); v != "" {
			return []byte(v), nil
		}
		return nil, fmt.Errorf("%w: no password for alias %q (set %s)", keystore.ErrNotFound, alias, a.cfg.KeyStore.EntryPasswordEnv)
	})
}

func envSuffix(alias string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, alias)
}

// openKeyStore loads the container into a new keystore. The caller closes
// the returned store.
func (a *app) openKeyStore(ctx context.Context) (*keystore.KeyStore, *persist.Store, error) {
	ks := keystore.New(keystore.Options{
		Cipher:    a.cfg.KeyStore.Cipher,
		KDF:       a.cfg.KeyStore.KDF,
		Passwords: a.entryPasswords(),
		Logger:    a.log,
		Audit:     a.audit,
	})
	store, err := persist.Open(a.cfg.KeyStore.Path, persist.EnvLock(a.cfg.KeyStore.PasswordEnv), persist.Options{
		Cipher:  a.cfg.KeyStore.Cipher,
		KDF:     a.cfg.KeyStore.KDF,
		Timeout: a.cfg.KeyStore.LockTimeout,
		Logger:  a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Load(ctx, ks); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to load keystore %s: %w", a.cfg.KeyStore.Path, err)
	}
	return ks, store, nil
}

// mutate loads the keystore, applies fn and saves the result.
func (a *app) mutate(ctx context.Context, fn func(ks *keystore.KeyStore) error) error {
	ks, store, err := a.openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := fn(ks); err != nil {
		return err
	}
	return store.Save(ctx, ks)
}

// view loads the keystore read-only and applies fn.
func (a *app) view(ctx context.Context, fn func(ks *keystore.KeyStore) error) error {
	ks, store, err := a.openKeyStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ks)
}

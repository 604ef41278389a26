package main

import (
	"bytes"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/remiblancher/qkeystore/internal/certificate"
	qcrypto "github.com/remiblancher/qkeystore/internal/crypto"
)

const pemTypeCertificate = "CERTIFICATE"

// readCertificates reads PEM certificates, or a single DER certificate.
func readCertificates(path string) ([]*certificate.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		c, err := certificate.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return []*certificate.Certificate{c}, nil
	}

	var certs []*certificate.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != pemTypeCertificate {
			continue
		}
		c, err := certificate.Parse(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s: no certificate found", path)
	}
	return certs, nil
}

func readCertificate(path string) (*certificate.Certificate, error) {
	certs, err := readCertificates(path)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// writeCertificates writes certs as concatenated PEM blocks.
func writeCertificates(path string, certs []*certificate.Certificate) error {
	var buf bytes.Buffer
	for _, c := range certs {
		if err := pem.Encode(&buf, &pem.Block{Type: pemTypeCertificate, Bytes: c.Raw()}); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// readKeyPair reads a PKCS#8 PEM private key, encrypted when passwordEnv
// names a set variable.
func readKeyPair(path, passwordEnv string) (*qcrypto.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	password := envBytes(passwordEnv)
	defer qcrypto.Wipe(password, data)

	priv, err := qcrypto.ParsePrivateKeyPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return qcrypto.NewKeyPair(priv)
}

// writeKeyPair writes kp's private key as PKCS#8 PEM with mode 0600.
func writeKeyPair(path string, kp *qcrypto.KeyPair, passwordEnv string) error {
	password := envBytes(passwordEnv)
	defer qcrypto.Wipe(password)

	data, err := qcrypto.MarshalPrivateKeyPEM(kp.PrivateKey, password)
	if err != nil {
		return err
	}
	defer qcrypto.Wipe(data)
	return os.WriteFile(path, data, 0600)
}

func envBytes(name string) []byte {
	if name == "" {
		return nil
	}
	if v := os.Getenv(name); v != "" {
		return []byte(v)
	}
	return nil
}

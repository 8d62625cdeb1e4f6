package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig holds the PEM files the RPC server serves TLS with. Setting
// ClientCA additionally requires clients to present a certificate it signed.
type TLSConfig struct {
	CertFile string `json:"cert_file,omitempty" toml:"cert_file"`
	KeyFile  string `json:"key_file,omitempty" toml:"key_file"`
	ClientCA string `json:"client_ca,omitempty" toml:"client_ca"`
}

// Enabled reports whether a certificate is configured.
func (c *TLSConfig) Enabled() bool {
	return c != nil && (c.CertFile != "" || c.KeyFile != "")
}

// LoadTLSConfig builds a server *tls.Config from the PEM paths in cfg.
// If cfg is nil or no certificate is configured it returns (nil, nil),
// meaning the caller should serve plain HTTP.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load rpc cert/key: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if cfg.ClientCA == "" {
		return out, nil
	}

	caPEM, err := os.ReadFile(cfg.ClientCA)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse client CA certificate")
	}
	out.ClientCAs = caPool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

// LoadClientTLSConfig builds a client *tls.Config that trusts caFile and,
// when certFile is set, presents that certificate for mutual TLS.
func LoadClientTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	out := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}
	if certFile == "" {
		return out, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}
	out.Certificates = []tls.Certificate{cert}
	return out, nil
}

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"

	"github.com/loykin/webvisor/internal/process"
)

// ClientOptions selects how an outbound connection verifies its peer.
type ClientOptions struct {
	CAPath     string // replaces the system roots when set
	CertPath   string
	KeyPath    string
	ServerName string
	SkipVerify bool
}

// ClientConfig builds the tls.Config of an outbound client.
func ClientConfig(o ClientOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         o.ServerName,
		InsecureSkipVerify: o.SkipVerify, // #nosec G402 -- opt-in
	}
	if o.CAPath != "" {
		pem, err := os.ReadFile(filepath.Clean(o.CAPath))
		if err != nil {
			return nil, &CertificateLoadError{Path: o.CAPath, Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &CertificateLoadError{Path: o.CAPath, Err: errors.New("no certificates found")}
		}
		cfg.RootCAs = pool
	}
	if o.CertPath != "" || o.KeyPath != "" {
		cert, err := LoadCertificate(process.SSLConfig{CertPath: o.CertPath, KeyPath: o.KeyPath})
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

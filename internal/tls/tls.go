// Package tls loads the certificates a worker serves and builds the
// server-side tls.Config, including per-host certificates for SNI.
package tls

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/webvisor/internal/process"
)

// CertificateLoadError reports TLS material that is missing or unusable.
type CertificateLoadError struct {
	Path string
	Err  error
}

func (e *CertificateLoadError) Error() string {
	return fmt.Sprintf("load certificate %s: %v", e.Path, e.Err)
}

func (e *CertificateLoadError) Unwrap() error { return e.Err }

// LoadCertificate reads the key pair named by ssl. Certificates found in
// ssl.CAPath are appended to the served chain.
func LoadCertificate(ssl process.SSLConfig) (tls.Certificate, error) {
	if ssl.CertPath == "" {
		return tls.Certificate{}, &CertificateLoadError{Path: "cert_path", Err: errors.New("not configured")}
	}
	if ssl.KeyPath == "" {
		return tls.Certificate{}, &CertificateLoadError{Path: "key_path", Err: errors.New("not configured")}
	}
	certPEM, err := os.ReadFile(filepath.Clean(ssl.CertPath))
	if err != nil {
		return tls.Certificate{}, &CertificateLoadError{Path: ssl.CertPath, Err: err}
	}
	keyPEM, err := os.ReadFile(filepath.Clean(ssl.KeyPath))
	if err != nil {
		return tls.Certificate{}, &CertificateLoadError{Path: ssl.KeyPath, Err: err}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, &CertificateLoadError{Path: ssl.CertPath, Err: err}
	}
	if ssl.CAPath != "" {
		chain, err := readChain(ssl.CAPath)
		if err != nil {
			return tls.Certificate{}, &CertificateLoadError{Path: ssl.CAPath, Err: err}
		}
		cert.Certificate = append(cert.Certificate, chain...)
	}
	return cert, nil
}

func readChain(path string) ([][]byte, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var chain [][]byte
	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return nil, errors.New("no certificates found")
	}
	return chain, nil
}

// CertSet is the certificate store behind a TLS listener: one default
// certificate plus optional per-host certificates chosen by SNI.
type CertSet struct {
	mu     sync.RWMutex
	def    *tls.Certificate
	byHost map[string]*tls.Certificate
}

func NewCertSet(def tls.Certificate) *CertSet {
	return &CertSet{def: &def, byHost: map[string]*tls.Certificate{}}
}

// Add registers cert for host. The first certificate for a host wins.
func (s *CertSet) Add(host string, cert tls.Certificate) bool {
	host = strings.ToLower(host)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHost[host]; ok {
		return false
	}
	s.byHost[host] = &cert
	return true
}

// Hosts returns how many per-host certificates are registered.
func (s *CertSet) Hosts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHost)
}

func (s *CertSet) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if hello != nil && hello.ServerName != "" {
		if c, ok := s.byHost[strings.ToLower(hello.ServerName)]; ok {
			return c, nil
		}
	}
	return s.def, nil
}

// ServerConfig returns a tls.Config serving the certificates of set.
func ServerConfig(set *CertSet) *tls.Config {
	return &tls.Config{
		GetCertificate: set.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

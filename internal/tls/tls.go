// Package tls builds the server-side TLS configuration of the daemon API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config selects the certificate of the daemon API. CertFile/KeyFile win
// over Dir; with AutoGenerate a self-signed pair is created in Dir when
// missing.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
}

func parseTLSVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS12, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// ValidVersion reports whether ver is an accepted min_version value.
func ValidVersion(ver string) bool {
	if ver == "" || ver == "default" {
		return true
	}
	_, ok := parseTLSVersion(ver)
	return ok
}

// Setup returns nil when TLS is disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, _ := parseTLSVersion(c.MinVersion)

	if c.CertFile != "" && c.KeyFile != "" {
		return createTLSConfig(c.CertFile, c.KeyFile, minVer)
	}
	if c.Dir != "" {
		certPath := filepath.Join(c.Dir, tlsCrt)
		keyPath := filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := os.MkdirAll(c.Dir, 0o755); err != nil {
				return nil, fmt.Errorf("create certificate directory: %w", err)
			}
			dns := c.DNSNames
			if len(dns) == 0 {
				dns = []string{"localhost"}
			}
			err := GenerateSelfSignedCert(CertConfig{
				CommonName:   dns[0],
				Organization: "panelsweep",
				DNSNames:     dns,
				IPAddresses:  []string{"127.0.0.1"},
				NotAfter:     time.Now().AddDate(2, 0, 0),
				CertPath:     certPath,
				KeyPath:      keyPath,
				CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
			})
			if err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return createTLSConfig(certPath, keyPath, minVer)
	}
	return nil, errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
}

// createTLSConfig loads the pair once to fail fast, then reloads it per
// handshake so rotated certificates are picked up without a restart.
func createTLSConfig(certPath, keyPath string, minVer uint16) (*tls.Config, error) {
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			c, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &c, err
		},
		MinVersion: minVer,
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// Package kafkaauth builds kafka-go dialers from the SASL and TLS sections of
// the configuration.
package kafkaauth

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/core"
)

const dialTimeout = 10 * time.Second

// Mechanism returns the SASL mechanism, or nil when SASL is disabled.
func Mechanism(cfg config.SASLConfig) (sasl.Mechanism, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToUpper(cfg.Mechanism) {
	case "", "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("%w: unsupported SASL mechanism %q", core.ErrConfigInvalid, cfg.Mechanism)
	}
}

// TLSConfig returns the client TLS configuration, or nil when TLS is disabled.
func TLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificate found in %s", core.ErrConfigInvalid, cfg.CACert)
		}
		tc.RootCAs = pool
	}
	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

// Dialer returns a dialer carrying the authentication settings, usable by
// both kafka.Reader and kafka.Writer.
func Dialer(s config.SASLConfig, t config.TLSConfig) (*kafka.Dialer, error) {
	mech, err := Mechanism(s)
	if err != nil {
		return nil, err
	}
	tc, err := TLSConfig(t)
	if err != nil {
		return nil, err
	}
	return &kafka.Dialer{
		Timeout:       dialTimeout,
		DualStack:     true,
		SASLMechanism: mech,
		TLS:           tc,
	}, nil
}

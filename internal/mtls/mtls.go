// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtls provides mTLS and TLS server configuration support.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
)

var (
	ErrMissingCertOrKey       = errors.New("client ca set without certificate or key")
	ErrNoValidRootCertificate = errors.New("no valid client ca certificate")
	ErrMissingCertificate     = errors.New("missing certificate")
	ErrMissingKey             = errors.New("missing key")
)

// Files holds the paths to PEM encoded TLS material.
type Files struct {
	// ClientCA is the CA used to verify client certificates.
	// If set, clients must present a valid certificate.
	ClientCA string
	Cert     string
	Key      string
}

// IsZero returns whether no TLS material is specified.
func (f Files) IsZero() bool {
	return f == Files{}
}

// ServerConfig returns a TLS configuration for serving TLS or mTLS
// connections using the material in the provided files. If no files are
// specified, a nil config is returned.
func ServerConfig(files Files) (*tls.Config, error) {
	if files.IsZero() {
		return nil, nil
	}
	if files.Cert == "" {
		if files.Key == "" {
			return nil, ErrMissingCertOrKey
		}
		return nil, ErrMissingCertificate
	}
	if files.Key == "" {
		return nil, ErrMissingKey
	}
	cert, err := tls.LoadX509KeyPair(files.Cert, files.Key)
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if files.ClientCA != "" {
		pem, err := os.ReadFile(files.ClientCA)
		if err != nil {
			return nil, err
		}
		caPool := x509.NewCertPool()
		ok := caPool.AppendCertsFromPEM(pem)
		if !ok {
			return nil, ErrNoValidRootCertificate
		}
		tlsConfig.ClientCAs = caPool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

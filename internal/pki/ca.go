// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/juju/errors"
)

// CA is a minimal signing authority. The operator never issues
// certificates itself; tests and local deployments use it to stand in for
// the TLS provider.
type CA struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
}

// NewCA returns a self signed CA valid from now for the given duration.
func NewCA(commonName string, signer crypto.Signer, now time.Time, validity time.Duration) (*CA, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, errors.Trace(err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, errors.Annotate(err, "creating ca certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &CA{Certificate: cert, Signer: signer}, nil
}

// SignCSR issues a leaf certificate for a PEM encoded request.
func (ca *CA) SignCSR(csrPEM string, now time.Time, validity time.Duration) (string, error) {
	csr, err := ParseCSR(csrPEM)
	if err != nil {
		return "", errors.Trace(err)
	}
	serial, err := newSerial()
	if err != nil {
		return "", errors.Trace(err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, csr.PublicKey, ca.Signer)
	if err != nil {
		return "", errors.Annotate(err, "signing certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return "", errors.Trace(err)
	}
	return CertificateToPemString(cert), nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, errors.Annotate(err, "generating serial number")
	}
	return serial, nil
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pki

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	PEMTypeCertificate = "CERTIFICATE"
	PEMTypeCSR         = "CERTIFICATE REQUEST"
	PEMTypePKCS8       = "PRIVATE KEY"
	PEMTypePKCS1       = "RSA PRIVATE KEY"
)

// SignerToPemString encodes a private key as PKCS8 PEM.
func SignerToPemString(signer crypto.Signer) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return "", errors.Annotate(err, "marshalling private key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypePKCS8, Bytes: der})), nil
}

// SignerFromPem parses the first private key found in PEM data, accepting
// both PKCS8 and PKCS1 encodings.
func SignerFromPem(data string) (crypto.Signer, error) {
	rest := []byte(data)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, errors.NotFoundf("private key in pem data")
		}
		switch block.Type {
		case PEMTypePKCS8:
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Annotate(err, "parsing pkcs8 private key")
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, errors.NotValidf("private key of type %T", key)
			}
			return signer, nil
		case PEMTypePKCS1:
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, errors.Annotate(err, "parsing pkcs1 private key")
			}
			return key, nil
		}
	}
}

// CertificateToPemString encodes a certificate as PEM.
func CertificateToPemString(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: cert.Raw}))
}

// UnmarshalCertificates parses every certificate in PEM data, leaf first.
func UnmarshalCertificates(data string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(strings.TrimSpace(data))
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != PEMTypeCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errors.Annotate(err, "parsing certificate")
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.NotFoundf("certificate in pem data")
	}
	return certs, nil
}

// Expiry returns the NotAfter time of the leaf certificate in PEM data.
func Expiry(certPEM string) (time.Time, error) {
	certs, err := UnmarshalCertificates(certPEM)
	if err != nil {
		return time.Time{}, errors.Trace(err)
	}
	return certs[0].NotAfter.UTC(), nil
}

// MatchesKey reports whether the leaf certificate in PEM data was issued
// for the given key.
func MatchesKey(certPEM string, signer crypto.Signer) (bool, error) {
	certs, err := UnmarshalCertificates(certPEM)
	if err != nil {
		return false, errors.Trace(err)
	}
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	pub, ok := signer.Public().(equaler)
	if !ok {
		return false, errors.NotSupportedf("comparing %T", signer.Public())
	}
	return pub.Equal(certs[0].PublicKey), nil
}

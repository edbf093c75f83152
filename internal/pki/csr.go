// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"net"

	"github.com/juju/errors"
)

// CSRParams describes the certificate the router asks for.
type CSRParams struct {
	CommonName string
	SANs       []string
}

// NewCSR returns a PEM encoded certificate signing request for the given
// key. SANs that parse as IP addresses become IP SANs, the rest DNS names.
func NewCSR(params CSRParams, signer crypto.Signer) (string, error) {
	if params.CommonName == "" {
		return "", errors.NotValidf("empty common name")
	}
	template := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: params.CommonName},
	}
	for _, san := range params.SANs {
		if ip := net.ParseIP(san); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if san != "" {
			template.DNSNames = append(template.DNSNames, san)
		}
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, signer)
	if err != nil {
		return "", errors.Annotate(err, "creating certificate request")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: PEMTypeCSR, Bytes: der})), nil
}

// ParseCSR decodes a PEM encoded certificate signing request and checks its
// signature.
func ParseCSR(data string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != PEMTypeCSR {
		return nil, errors.NotValidf("certificate request pem")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, errors.Annotate(err, "parsing certificate request")
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, errors.Annotate(err, "certificate request signature")
	}
	return csr, nil
}

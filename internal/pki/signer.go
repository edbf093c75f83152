// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package pki generates the router's TLS key material and inspects the
// certificates handed back by the TLS provider.
package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"sort"

	"github.com/juju/errors"
)

// KeyProfile generates the private key a unit signs its CSR with.
type KeyProfile func() (crypto.Signer, error)

// DefaultKeyType names the profile used when the operator sets none.
// The TLS provider expects a 2048 bit RSA key unless told otherwise.
const DefaultKeyType = "rsa-2048"

var keyProfiles = map[string]KeyProfile{
	"rsa-2048":   RSA2048,
	"rsa-3072":   RSA3072,
	"ecdsa-p256": ECDSAP256,
	"ecdsa-p384": ECDSAP384,
}

// DefaultKeyProfile is the profile named by DefaultKeyType.
var DefaultKeyProfile = keyProfiles[DefaultKeyType]

// KeyProfileFor returns the profile with the given key type, the
// default one for an empty name.
func KeyProfileFor(keyType string) (KeyProfile, error) {
	if keyType == "" {
		keyType = DefaultKeyType
	}
	profile, ok := keyProfiles[keyType]
	if !ok {
		return nil, errors.NotValidf("key type %q (expected one of %v)", keyType, KeyTypes())
	}
	return profile, nil
}

// KeyTypes lists the supported key types.
func KeyTypes() []string {
	types := make([]string, 0, len(keyProfiles))
	for name := range keyProfiles {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

func ECDSAP256() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func ECDSAP384() (crypto.Signer, error) {
	return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
}

func RSA2048() (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// RSA3072 is slow enough that tests should stay on ECDSA.
func RSA3072() (crypto.Signer, error) {
	return rsa.GenerateKey(rand.Reader, 3072)
}

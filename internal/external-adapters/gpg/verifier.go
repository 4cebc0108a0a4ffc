// Package gpg provides detached OpenPGP signature verification for policy
// table overlays.
package gpg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// armoredSignaturePrefix starts every ASCII-armored signature
const armoredSignaturePrefix = "-----BEGIN PGP SIGNATURE-----"

// maxSignatureSize bounds the signature read; real signatures are well under 1KB
const maxSignatureSize = 10 * 1024

// Verifier checks detached signatures against a local keyring.
// Keys are only ever read from local files.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier creates a verifier with an empty keyring
func NewVerifier() *Verifier {
	return &Verifier{keyring: make(openpgp.EntityList, 0)}
}

// ImportKeyFromFile adds the keys of an armored or binary key file
func (v *Verifier) ImportKeyFromFile(keyPath string) error {
	//nolint:gosec // G304: keyPath is user-provided for key import
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to open key file: %w", err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
	}
	if len(entities) == 0 {
		return fmt.Errorf("no keys found in %s", keyPath)
	}

	v.keyring = append(v.keyring, entities...)
	return nil
}

// Verify checks a detached signature, armored or binary, over signed
func (v *Verifier) Verify(signed, signature io.Reader) error {
	if len(v.keyring) == 0 {
		return fmt.Errorf("no keys imported, call ImportKeyFromFile first")
	}

	sig := bufio.NewReader(io.LimitReader(signature, maxSignatureSize))
	head, _ := sig.Peek(len(armoredSignaturePrefix))

	var err error
	if string(head) == armoredSignaturePrefix {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, signed, sig, nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, signed, sig, nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// KeyringSize returns the number of keys in the keyring
func (v *Verifier) KeyringSize() int {
	return len(v.keyring)
}

// Package signing clearsigns a generated Release file into an InRelease
// document. Pository never signs automatically — signing is invoked
// explicitly via the "pository sign" command, since the specification
// treats signing as a deployment concern and emits unsigned Release files
// by default.
package signing

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

func findSigner(armoredKey string) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, fmt.Errorf("read armored key: %w", err)
	}
	for _, e := range entities {
		if e.PrivateKey != nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no private key found in keyring")
}

// ClearSign produces an ASCII-armored clearsigned InRelease document from
// the bytes of a previously rendered Release document.
func ClearSign(release []byte, armoredPrivateKey string) ([]byte, error) {
	signer, err := findSigner(armoredPrivateKey)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	w, err := clearsign.Encode(&out, signer.PrivateKey, nil)
	if err != nil {
		return nil, fmt.Errorf("start clearsign: %w", err)
	}
	if _, err := w.Write(release); err != nil {
		return nil, fmt.Errorf("write release body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish clearsign: %w", err)
	}
	return out.Bytes(), nil
}

// PublicKey extracts the armored public key counterpart of a private
// keyring, for clients to import as a trusted apt signing key.
func PublicKey(armoredPrivateKey string) ([]byte, error) {
	signer, err := findSigner(armoredPrivateKey)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := signer.Serialize(w); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Package wallet reads and writes ed25519 keypair files in the JSON
// byte-array format Solana tooling uses: a 64-element array holding the
// secret key (32-byte seed followed by the 32-byte public key).
package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/chain/txvm/crypto/ed25519"
	"github.com/chain/txvm/errors"
	"github.com/interstellar/starlight/env"
	"github.com/mr-tron/base58"
)

// Keypair is one signing identity.
type Keypair struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	pub, prv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "generating keypair")
	}
	return &Keypair{Priv: prv, Pub: pub}, nil
}

// Address returns the base58 form of the public key, which doubles as
// the account address on the ledger.
func (k *Keypair) Address() string {
	return base58.Encode(k.Pub)
}

// Sign signs msg with the secret key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Priv, msg)
}

// Save writes the keypair to path, mode 0600.
func Save(path string, k *Keypair) error {
	if len(k.Priv) != ed25519.PrivateKeySize {
		return errors.New("malformed private key")
	}
	ints := make([]int, ed25519.PrivateKeySize)
	for i, b := range k.Priv {
		ints[i] = int(b)
	}
	bits, err := json.Marshal(ints)
	if err != nil {
		return errors.Wrap(err, "marshaling keypair")
	}
	return errors.Wrapf(os.WriteFile(path, bits, 0600), "writing wallet file %s", path)
}

// Load reads a keypair file written by Save or by Solana tooling.
func Load(path string) (*Keypair, error) {
	bits, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading wallet file %s", path)
	}
	var ints []int
	err = json.Unmarshal(bits, &ints)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing wallet file %s", path)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(errors.New("wrong secret key length"), "wallet file %s has %d bytes", path, len(ints))
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(errors.New("byte out of range"), "wallet file %s", path)
		}
		priv[i] = byte(v)
	}
	return &Keypair{Priv: priv, Pub: priv.Public().(ed25519.PublicKey)}, nil
}

// DefaultPath is where the CLI looks for a wallet when none is given:
// $LEDGER_WALLET, or wallet.json under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return env.String("LEDGER_WALLET", filepath.Join(dir, "secureai", "wallet.json"))
}

package ledger

import (
	"encoding/json"

	"github.com/chain/txvm/crypto/ed25519"
	"github.com/chain/txvm/errors"
	"github.com/mr-tron/base58"
)

// AccountMeta references one account a transaction touches.
type AccountMeta struct {
	Address  string `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// Args are the record program's operation arguments.
type Args struct {
	ContentHash       string `json:"content_hash"`
	AuthenticityScore uint64 `json:"authenticity_score"`
}

// Message is the signed body of a transaction. Signers sign the exact
// serialized message bytes, so the bytes, not the struct, are the
// canonical form.
//
// Account order is positional, Anchor style: for create the accounts
// are [storage, payer, system]; for overwrite they are [storage,
// payer]. Storage and payer sign a create; only payer signs an
// overwrite.
type Message struct {
	ProgramID string        `json:"program_id"`
	Op        string        `json:"op"`
	Args      Args          `json:"args"`
	Accounts  []AccountMeta `json:"accounts"`
	Nonce     uint64        `json:"nonce"`
	ExpiresMS int64         `json:"expires_ms,omitempty"`
}

// Signers returns the signer accounts in message order.
func (m *Message) Signers() []AccountMeta {
	var signers []AccountMeta
	for _, meta := range m.Accounts {
		if meta.Signer {
			signers = append(signers, meta)
		}
	}
	return signers
}

// FeePayer is the first signer, or empty when the message has none.
func (m *Message) FeePayer() string {
	for _, meta := range m.Accounts {
		if meta.Signer {
			return meta.Address
		}
	}
	return ""
}

// RawTx is the submitted wire form of a transaction: the exact message
// bytes plus one signature per signer account, in account order.
type RawTx struct {
	Message []byte   `json:"message"`
	Sigs    [][]byte `json:"sigs"`
}

// NewTx serializes m and signs it with each key, which must align with
// m's signer accounts in order.
func NewTx(m *Message, keys ...ed25519.PrivateKey) (*RawTx, error) {
	msg, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling message")
	}
	tx := &RawTx{Message: msg}
	for _, key := range keys {
		tx.Sigs = append(tx.Sigs, ed25519.Sign(key, msg))
	}
	return tx, nil
}

// ID is the transaction's identifier: the base58 form of its first
// signature, like a Solana transaction signature.
func (tx *RawTx) ID() string {
	if len(tx.Sigs) == 0 {
		return ""
	}
	return base58.Encode(tx.Sigs[0])
}

// ParseMessage decodes the message bytes.
func (tx *RawTx) ParseMessage() (*Message, error) {
	var m Message
	err := json.Unmarshal(tx.Message, &m)
	if err != nil {
		return nil, errors.Wrapf(ErrBadTx, "parsing message: %s", err)
	}
	return &m, nil
}

// VerifySigs checks one valid signature over the message bytes per
// signer account, in order.
func (tx *RawTx) VerifySigs(m *Message) error {
	signers := m.Signers()
	if len(signers) == 0 {
		return errors.Wrap(ErrAuthorizationFailed, "transaction has no signer accounts")
	}
	if len(tx.Sigs) != len(signers) {
		return errors.Wrapf(ErrAuthorizationFailed, "transaction has %d signatures for %d signer accounts", len(tx.Sigs), len(signers))
	}
	for i, meta := range signers {
		pub, err := DecodeAddress(meta.Address)
		if err != nil {
			return err
		}
		if len(tx.Sigs[i]) != ed25519.SignatureSize || !ed25519.Verify(pub, tx.Message, tx.Sigs[i]) {
			return errors.Wrapf(ErrAuthorizationFailed, "bad signature from %s", meta.Address)
		}
	}
	return nil
}

// DecodeAddress decodes a base58 account address into its public key.
func DecodeAddress(addr string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, errors.Wrapf(ErrBadTx, "decoding address %s: %s", addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.Wrapf(ErrBadTx, "address %s decodes to %d bytes, want %d", addr, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

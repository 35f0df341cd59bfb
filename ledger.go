// Package ledger implements a single-validator ledger for authenticity
// records. Signed transactions carry create and overwrite operations
// for the record program, a submitter batches them into slots, and the
// validator serves the HTTP API clients submit to and read from.
package ledger

import (
	"crypto/sha256"

	"github.com/chain/txvm/errors"
	"github.com/mr-tron/base58"
)

// Operations the record program accepts.
const (
	OpCreate    = "create"
	OpOverwrite = "overwrite"
)

// SystemOwner owns plain balance accounts: the all-zero public key in
// base58, as on Solana.
const SystemOwner = "11111111111111111111111111111111"

// Fee and rent parameters, matching Solana's numbers: a flat fee per
// signature, rent exemption priced per byte-year over two years, and a
// fixed per-account storage overhead.
const (
	FeePerSignature     = 5000
	lamportsPerByteYear = 3480
	rentExemptYears     = 2
	accountOverhead     = 128
)

// RentExemptMinimum is the balance an account holding dataLen bytes of
// data must be funded with at creation.
func RentExemptMinimum(dataLen int) uint64 {
	return uint64(dataLen+accountOverhead) * lamportsPerByteYear * rentExemptYears
}

// DefaultProgramID is the record program's address when none is
// configured, derived deterministically so every deployment agrees
// without coordination.
func DefaultProgramID() string {
	h := sha256.Sum256([]byte("secureai/record-program/v1"))
	return base58.Encode(h[:])
}

// Host-detected transaction failures. Program-level failures are the
// record package's errors.
var (
	ErrBadTx               = errors.New("malformed transaction")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrUnknownProgram      = errors.New("unknown program")
	ErrUnknownOp           = errors.New("unknown operation")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateTx         = errors.New("duplicate transaction")
	ErrTxExpired           = errors.New("transaction expired")
)

// Tracer receives the diagnostics programs emit on successful
// operations. The validator installs a logging tracer; tests install
// capturing ones.
type Tracer interface {
	Logf(format string, args ...interface{})
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(format string, args ...interface{})

func (f TracerFunc) Logf(format string, args ...interface{}) { f(format, args...) }

// Package record implements the authenticity record envelope: a fixed
// 276-byte account layout holding one content hash and one score, plus
// the create/overwrite/read transitions over raw account data.
//
// The layout is borsh-shaped and little-endian throughout: an 8-byte
// discriminator tag, a 4-byte hash length, up to 256 hash bytes, and an
// 8-byte score immediately after the hash. The envelope is always
// allocated at its full size and zero-padded past the value region, so
// two accounts holding the same logical record are byte-identical.
package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/chain/txvm/errors"
)

const (
	// TagLen is the length of the discriminator prefix.
	TagLen = 8

	// LenPrefixLen is the length of the hash-length field.
	LenPrefixLen = 4

	// MaxHashLen is the largest content hash an envelope can hold.
	MaxHashLen = 256

	// ScoreLen is the length of the serialized authenticity score.
	ScoreLen = 8

	// EnvelopeLen is the full allocated size of a record account.
	EnvelopeLen = TagLen + LenPrefixLen + MaxHashLen + ScoreLen
)

// Tag marks an account buffer as an initialized record envelope. It is
// the leading 8 bytes of SHA-256("account:StorageAccount"), the same
// derivation Anchor uses for account discriminators.
var Tag = func() (t [TagLen]byte) {
	h := sha256.Sum256([]byte("account:StorageAccount"))
	copy(t[:], h[:TagLen])
	return t
}()

var (
	ErrCapacityExceeded   = errors.New("content hash exceeds record capacity")
	ErrAlreadyInitialized = errors.New("record already initialized")
	ErrNotInitialized     = errors.New("record not initialized")
	ErrCorrupt            = errors.New("record envelope corrupt")
)

// Record is one stored authenticity claim: an opaque content hash and
// the score assigned to it. Neither field is validated beyond length;
// hash semantics belong to the layer that computes them.
type Record struct {
	ContentHash       string `json:"content_hash"`
	AuthenticityScore uint64 `json:"authenticity_score"`
}

// Initialized reports whether data begins with the record tag. Fresh
// accounts are all zero and therefore uninitialized.
func Initialized(data []byte) bool {
	return len(data) >= TagLen && bytes.Equal(data[:TagLen], Tag[:])
}

// Create initializes a fresh account buffer with rec. It fails if the
// buffer already carries the record tag or if rec does not fit, and
// writes nothing on failure.
func Create(data []byte, rec Record) error {
	if Initialized(data) {
		return ErrAlreadyInitialized
	}
	return write(data, rec)
}

// Overwrite replaces the record in an initialized buffer with rec,
// discarding the prior value entirely. It fails on uninitialized
// buffers and on oversized records, writing nothing on failure.
func Overwrite(data []byte, rec Record) error {
	if !Initialized(data) {
		return ErrNotInitialized
	}
	return write(data, rec)
}

func write(data []byte, rec Record) error {
	n := len(rec.ContentHash)
	if n > MaxHashLen {
		return errors.Wrapf(ErrCapacityExceeded, "content hash is %d bytes, limit is %d", n, MaxHashLen)
	}
	if len(data) < EnvelopeLen {
		return errors.Wrapf(ErrCapacityExceeded, "account buffer is %d bytes, envelope needs %d", len(data), EnvelopeLen)
	}
	for i := 0; i < EnvelopeLen; i++ {
		data[i] = 0
	}
	copy(data, Tag[:])
	binary.LittleEndian.PutUint32(data[TagLen:], uint32(n))
	copy(data[TagLen+LenPrefixLen:], rec.ContentHash)
	binary.LittleEndian.PutUint64(data[TagLen+LenPrefixLen+n:], rec.AuthenticityScore)
	return nil
}

// Read decodes the record held in data. It fails with ErrNotInitialized
// when the tag is absent and with ErrCorrupt when the tag is present but
// the value region is malformed. Zero padding past the score is ignored.
func Read(data []byte) (Record, error) {
	if !Initialized(data) {
		return Record{}, ErrNotInitialized
	}
	if len(data) < TagLen+LenPrefixLen {
		return Record{}, errors.Wrap(ErrCorrupt, "envelope truncated before length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data[TagLen:]))
	if n > MaxHashLen {
		return Record{}, errors.Wrapf(ErrCorrupt, "hash length %d exceeds limit %d", n, MaxHashLen)
	}
	if len(data) < TagLen+LenPrefixLen+n+ScoreLen {
		return Record{}, errors.Wrapf(ErrCorrupt, "envelope truncated inside %d-byte value region", n+ScoreLen)
	}
	var rec Record
	rec.ContentHash = string(data[TagLen+LenPrefixLen : TagLen+LenPrefixLen+n])
	rec.AuthenticityScore = binary.LittleEndian.Uint64(data[TagLen+LenPrefixLen+n:])
	return rec, nil
}

// Encode serializes rec into a fresh full-size envelope.
func Encode(rec Record) ([]byte, error) {
	data := make([]byte, EnvelopeLen)
	err := write(data, rec)
	if err != nil {
		return nil, err
	}
	return data, nil
}

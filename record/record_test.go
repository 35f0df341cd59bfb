package record

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chain/txvm/errors"
	"github.com/davecgh/go-spew/spew"
	"github.com/sebdah/goldie/v2"
)

// The envelope layout is a wire contract. The literal bytes here pin the
// discriminator derivation and the little-endian field order.
func TestEnvelopeLayout(t *testing.T) {
	data, err := Encode(Record{ContentHash: "", AuthenticityScore: 0x1122334455667788})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != EnvelopeLen {
		t.Fatalf("envelope is %d bytes, want %d", len(data), EnvelopeLen)
	}
	want := make([]byte, EnvelopeLen)
	copy(want, []byte{
		0x29, 0x30, 0xe7, 0xc2, 0x16, 0x4d, 0xcd, 0xeb, // tag
		0x00, 0x00, 0x00, 0x00, // hash length 0
		0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, // score
	})
	if !bytes.Equal(data, want) {
		t.Errorf("envelope bytes mismatch\ngot:  %s\nwant: %s", spew.Sdump(data[:24]), spew.Sdump(want[:24]))
	}
}

func TestEnvelopeGolden(t *testing.T) {
	data, err := Encode(Record{
		ContentHash:       "ba4ba94e78337a4d21737454bbbbd0e31c1b00eac5e0688eb0ea705ba56d895f",
		AuthenticityScore: 87,
	})
	if err != nil {
		t.Fatal(err)
	}
	g := goldie.New(t)
	g.Assert(t, "envelope", data)
}

func TestCreateReadRoundTrip(t *testing.T) {
	cases := []Record{
		{ContentHash: "", AuthenticityScore: 0},
		{ContentHash: "ba4ba94e78337a4d", AuthenticityScore: 87},
		{ContentHash: strings.Repeat("f", MaxHashLen), AuthenticityScore: 1},
		{ContentHash: "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", AuthenticityScore: ^uint64(0)},
		{ContentHash: "\x00\x01\xff not text", AuthenticityScore: 42},
	}
	for i, rec := range cases {
		data := make([]byte, EnvelopeLen)
		err := Create(data, rec)
		if err != nil {
			t.Fatalf("case %d: create: %s", i, err)
		}
		got, err := Read(data)
		if err != nil {
			t.Fatalf("case %d: read: %s", i, err)
		}
		if got != rec {
			t.Errorf("case %d: round trip got %+v, want %+v", i, got, rec)
		}
	}
}

func TestCreateAlreadyInitialized(t *testing.T) {
	data := make([]byte, EnvelopeLen)
	err := Create(data, Record{ContentHash: "aa", AuthenticityScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte{}, data...)

	err = Create(data, Record{ContentHash: "bb", AuthenticityScore: 2})
	if errors.Root(err) != ErrAlreadyInitialized {
		t.Errorf("got error %v, want %s", err, ErrAlreadyInitialized)
	}
	if !bytes.Equal(data, snapshot) {
		t.Error("failed create modified the account buffer")
	}
}

func TestOverwriteReplacesWholesale(t *testing.T) {
	long := Record{ContentHash: strings.Repeat("a", 200), AuthenticityScore: 10}
	short := Record{ContentHash: "bb", AuthenticityScore: 95}

	data := make([]byte, EnvelopeLen)
	if err := Create(data, long); err != nil {
		t.Fatal(err)
	}
	if err := Overwrite(data, short); err != nil {
		t.Fatal(err)
	}
	got, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if got != short {
		t.Errorf("got %+v, want %+v", got, short)
	}

	// No residue of the longer prior value: the buffer must match a
	// fresh encoding of the same record byte for byte.
	fresh, err := Encode(short)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, fresh) {
		t.Error("overwritten envelope differs from a fresh encoding of the same record")
	}
}

func TestOverwriteNotInitialized(t *testing.T) {
	data := make([]byte, EnvelopeLen)
	err := Overwrite(data, Record{ContentHash: "aa", AuthenticityScore: 1})
	if errors.Root(err) != ErrNotInitialized {
		t.Errorf("got error %v, want %s", err, ErrNotInitialized)
	}
	if !bytes.Equal(data, make([]byte, EnvelopeLen)) {
		t.Error("failed overwrite modified the account buffer")
	}
}

func TestCapacityExceeded(t *testing.T) {
	big := Record{ContentHash: strings.Repeat("x", MaxHashLen+1), AuthenticityScore: 1}

	fresh := make([]byte, EnvelopeLen)
	err := Create(fresh, big)
	if errors.Root(err) != ErrCapacityExceeded {
		t.Errorf("create: got error %v, want %s", err, ErrCapacityExceeded)
	}
	if !bytes.Equal(fresh, make([]byte, EnvelopeLen)) {
		t.Error("failed create modified the account buffer")
	}

	data := make([]byte, EnvelopeLen)
	if err := Create(data, Record{ContentHash: "aa", AuthenticityScore: 1}); err != nil {
		t.Fatal(err)
	}
	snapshot := append([]byte{}, data...)
	err = Overwrite(data, big)
	if errors.Root(err) != ErrCapacityExceeded {
		t.Errorf("overwrite: got error %v, want %s", err, ErrCapacityExceeded)
	}
	if !bytes.Equal(data, snapshot) {
		t.Error("failed overwrite modified the account buffer")
	}
}

func TestOverwriteIdempotent(t *testing.T) {
	rec := Record{ContentHash: "ba4ba94e", AuthenticityScore: 7}
	data := make([]byte, EnvelopeLen)
	if err := Create(data, rec); err != nil {
		t.Fatal(err)
	}
	once := append([]byte{}, data...)
	if err := Overwrite(data, rec); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, once) {
		t.Error("overwriting with identical values changed the envelope bytes")
	}
}

func TestReadCorrupt(t *testing.T) {
	data := make([]byte, EnvelopeLen)
	if err := Create(data, Record{ContentHash: "aa", AuthenticityScore: 1}); err != nil {
		t.Fatal(err)
	}

	// Length prefix pointing past the hash region.
	bad := append([]byte{}, data...)
	bad[TagLen] = 0xff
	bad[TagLen+1] = 0xff
	if _, err := Read(bad); errors.Root(err) != ErrCorrupt {
		t.Errorf("oversized length prefix: got error %v, want %s", err, ErrCorrupt)
	}

	// Valid tag on a truncated buffer.
	if _, err := Read(data[:TagLen+2]); errors.Root(err) != ErrCorrupt {
		t.Errorf("truncated envelope: got error %v, want %s", err, ErrCorrupt)
	}
}

func TestInitialized(t *testing.T) {
	if Initialized(make([]byte, EnvelopeLen)) {
		t.Error("zeroed buffer reported initialized")
	}
	if Initialized(Tag[:4]) {
		t.Error("short buffer reported initialized")
	}
	data, err := Encode(Record{ContentHash: "aa", AuthenticityScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !Initialized(data) {
		t.Error("encoded envelope reported uninitialized")
	}
}

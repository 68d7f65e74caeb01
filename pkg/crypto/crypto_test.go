package crypto

import (
	"bytes"
	"testing"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("meridian"))
	b := Hash([]byte("meridian"))
	if a != b {
		t.Fatal("same input hashed to different values")
	}
	if a == Hash([]byte("meridiam")) {
		t.Fatal("different inputs hashed to the same value")
	}
	if a.IsZero() {
		t.Fatal("hash of non-empty input is zero")
	}
}

func TestHashConcatOrderSensitive(t *testing.T) {
	a := Hash([]byte("a"))
	b := Hash([]byte("b"))
	if HashConcat(a, b) == HashConcat(b, a) {
		t.Fatal("concat hash is order insensitive")
	}
}

func TestHashAll(t *testing.T) {
	if HashAll(nil) != Hash(nil) {
		t.Fatal("empty list should hash to the empty-string hash")
	}
	hashes := []types.Hash{Hash([]byte("a")), Hash([]byte("b")), Hash([]byte("c"))}
	want := HashConcat(HashConcat(hashes[0], hashes[1]), hashes[2])
	if got := HashAll(hashes); got != want {
		t.Fatalf("fold mismatch: got %s want %s", got, want)
	}
	single := []types.Hash{Hash([]byte("solo"))}
	if HashAll(single) != single[0] {
		t.Fatal("single-element fold should return the element")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	defer key.Zero()

	digest := Hash([]byte("signed payload"))
	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifySignature(digest[:], sig, key.PublicKey()) {
		t.Fatal("valid signature rejected")
	}

	other := Hash([]byte("different payload"))
	if VerifySignature(other[:], sig, key.PublicKey()) {
		t.Fatal("signature verified against the wrong digest")
	}

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	if VerifySignature(digest[:], tampered, key.PublicKey()) {
		t.Fatal("tampered signature verified")
	}
}

func TestSignRejectsBadDigestLength(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	defer key.Zero()

	if _, err := key.Sign([]byte("short")); err == nil {
		t.Fatal("expected error for non-32-byte digest")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Serialize())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !bytes.Equal(restored.PublicKey(), key.PublicKey()) {
		t.Fatal("restored key has a different public key")
	}
	if _, err := PrivateKeyFromBytes(make([]byte, 31)); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestVerifySignatureMalformedInputs(t *testing.T) {
	digest := Hash([]byte("x"))
	if VerifySignature(digest[:], []byte("not a signature"), []byte("not a key")) {
		t.Fatal("garbage inputs verified")
	}
	var v SchnorrVerifier
	if v.Verify(digest[:], nil, nil) {
		t.Fatal("nil inputs verified")
	}
}

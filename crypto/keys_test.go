package crypto

import "testing"

func TestGenerateKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !ValidPubkeyHex(key.PublicKeyHex()) {
		t.Fatalf("generated pubkey %q not valid", key.PublicKeyHex())
	}

	reparsed, err := ParsePrivateKey(key.SeedHex())
	if err != nil {
		t.Fatalf("ParsePrivateKey(seed): %v", err)
	}
	if reparsed.PublicKeyHex() != key.PublicKeyHex() {
		t.Fatalf("seed round-trip pubkey mismatch: %s != %s", reparsed.PublicKeyHex(), key.PublicKeyHex())
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("canonical bytes go here")
	sig := key.Sign(msg)
	if !Verify(key.PublicKeyHex(), msg, sig) {
		t.Fatal("Verify() = false, want true for a freshly produced signature")
	}
	if Verify(key.PublicKeyHex(), []byte("different message"), sig) {
		t.Fatal("Verify() = true for a tampered message, want false")
	}
}

func TestVerifyRejectsMalformedPubkey(t *testing.T) {
	if Verify("not-hex", []byte("msg"), []byte("sig")) {
		t.Fatal("Verify() with malformed pubkey should be false")
	}
	if Verify("ab", []byte("msg"), []byte("sig")) {
		t.Fatal("Verify() with short pubkey should be false")
	}
}

func TestValidPubkeyHex(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !ValidPubkeyHex(key.PublicKeyHex()) {
		t.Fatal("ValidPubkeyHex should accept a generated pubkey")
	}
	if ValidPubkeyHex("") {
		t.Fatal("ValidPubkeyHex should reject empty string")
	}
	if ValidPubkeyHex(key.PublicKeyHex()[:63] + "Z") {
		t.Fatal("ValidPubkeyHex should reject non-hex characters")
	}
	if ValidPubkeyHex(key.PublicKeyHex()[:10]) {
		t.Fatal("ValidPubkeyHex should reject short strings")
	}
}

func TestParsePrivateKeyRejectsBadEncoding(t *testing.T) {
	if _, err := ParsePrivateKey("not-hex-at-all"); err == nil {
		t.Fatal("expected error for non-hex key material")
	}
	if _, err := ParsePrivateKey("aabb"); err == nil {
		t.Fatal("expected error for wrong-length key material")
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("same input"))
	b := ContentHash([]byte("same input"))
	if a != b {
		t.Fatalf("ContentHash not deterministic: %s != %s", a, b)
	}
	if a == ContentHash([]byte("different input")) {
		t.Fatal("ContentHash collision on different inputs")
	}
}

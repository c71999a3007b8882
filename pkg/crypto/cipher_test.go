package crypto

import "testing"

func TestEncryptDecryptRoundtrip(t *testing.T) {
	payload := `{"type":"pgvector","repositoryId":"r1","connection":{"password":"hunter2"}}`
	sealed, err := EncryptString("deploy-secret", payload)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptToString("deploy-secret", sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != payload {
		t.Fatalf("roundtrip mismatch: %q", plain)
	}
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	sealed, err := EncryptString("deploy-secret", "payload")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptToString("other-secret", sealed); err == nil {
		t.Fatalf("expected decrypt failure with wrong secret")
	}
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	if _, err := DecryptToString("deploy-secret", []byte{0x01}); err == nil {
		t.Fatalf("expected decrypt failure for truncated payload")
	}
}

package serialization

import (
	"encoding/hex"
	"errors"
	"testing"
)

// TestComputeChecksum verifies SHA-256 checksum computation.
func TestComputeChecksum(t *testing.T) {
	data := []byte("test data")
	checksum1 := ComputeChecksum(data)
	checksum2 := ComputeChecksum(data)

	if checksum1 != checksum2 {
		t.Error("Checksums should match for identical data")
	}
	if checksum1 == ComputeChecksum([]byte("different data")) {
		t.Error("Checksums should differ for different data")
	}
}

// TestValidateChecksum verifies checksum validation.
func TestValidateChecksum(t *testing.T) {
	checksum := ComputeChecksum([]byte("test data"))

	if err := ValidateChecksum(checksum, checksum); err != nil {
		t.Errorf("Expected no error for matching checksums, got: %v", err)
	}

	wrongChecksum := [32]byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := ValidateChecksum(checksum, wrongChecksum); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got: %v", err)
	}
}

// TestEmptyChecksumKnownVector checks the digest of an empty data section.
func TestEmptyChecksumKnownVector(t *testing.T) {
	sum := ComputeChecksum(nil)
	got := hex.EncodeToString(sum[:])
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("ComputeChecksum(nil) = %s, want %s", got, want)
	}
}

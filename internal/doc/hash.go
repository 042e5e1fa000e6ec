package doc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with older fingerprints.
const (
	DomainRecord = "autosync/record/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the exact serialization of obj and its content hash.
// The autosave scheduler compares fingerprints to skip unchanged writes.
func Fingerprint(obj Object) (data []byte, hash string, err error) {
	data, err = Marshal(obj)
	if err != nil {
		return nil, "", fmt.Errorf("fingerprint: %w", err)
	}
	return data, hashWithDomain(DomainRecord, data), nil
}

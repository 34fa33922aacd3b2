package audit

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/opengovern/sentinel/internal/hashutil"
	"github.com/opengovern/sentinel/internal/signer"
)

// unsignedCopy returns a copy of r with Signature/SigningKeyID cleared —
// both the bytes that get signed and the bytes reconstructed for
// verification are this shape.
func unsignedCopy(r Record) Record {
	r.Signature = ""
	r.SigningKeyID = ""
	return r
}

// serialize marshals r to its canonical on-disk JSON form. Object field
// order follows struct field declaration order (encoding/json's
// behavior), and that order is part of the wire format: verification
// rehashes the exact bytes written rather than re-canonicalizing.
func serialize(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// signRecord signs the unsigned serialization of r and returns r with
// Signature/SigningKeyID populated.
func signRecord(r Record, priv ed25519.PrivateKey, keyID string) (Record, error) {
	data, err := serialize(unsignedCopy(r))
	if err != nil {
		return Record{}, err
	}
	r.Signature = signer.Sign(priv, data)
	r.SigningKeyID = keyID
	return r, nil
}

// verifySignature reconstructs the unsigned serialization of r and
// checks its signature against pub. Returns false on any malformed
// input rather than panicking.
func verifySignature(r Record, pub ed25519.PublicKey) bool {
	data, err := serialize(unsignedCopy(r))
	if err != nil {
		return false
	}
	return signer.Verify(pub, data, r.Signature)
}

// prevHashOf computes the prevRecordHash that the NEXT record should
// carry, given the exact bytes written for this one.
func prevHashOf(lineBytes []byte) string {
	return hashutil.Short(lineBytes)
}

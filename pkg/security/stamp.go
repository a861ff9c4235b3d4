package security

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Stamp produces the tamper-evidence token stored with each vote: the
// SHA-256 digest over the session id and the cast timestamp, hex-encoded.
// Recomputing the stamp from the stored values must reproduce the token,
// otherwise the record is considered tampered.
func Stamp(sessionID string, ts time.Time) string {
	hasher := sha256.New()
	hasher.Write([]byte(sessionID))
	hasher.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifyStamp checks a stored token against a recomputed stamp
func VerifyStamp(sessionID string, ts time.Time, token string) bool {
	return Stamp(sessionID, ts) == token
}

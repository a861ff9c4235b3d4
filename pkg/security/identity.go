package security

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Key derivation parameters for the process-wide salt
	pbkdfIterations = 100000
	saltLength      = 32

	saltContext = "campus_vote.voter_identity"
)

// Accepted credential formats: VROLL followed by exactly 7 digits, or V
// followed by 4-8 digits. Exact match, case-sensitive; callers uppercase
// their input first.
var (
	rollPattern  = regexp.MustCompile(`^VROLL\d{7}$`)
	shortPattern = regexp.MustCompile(`^V\d{4,8}$`)
)

// ValidateCredentialFormat reports whether the credential matches one of
// the accepted voting ID formats
func ValidateCredentialFormat(credential string) bool {
	return rollPattern.MatchString(credential) || shortPattern.MatchString(credential)
}

// IdentityHasher produces anonymized voter identity tokens. The salt is
// derived once from the configured secret and shared process-wide, so the
// same credential always maps to the same token.
type IdentityHasher struct {
	salt []byte
}

// NewIdentityHasher derives the hashing salt from the configured secret
func NewIdentityHasher(secret string) *IdentityHasher {
	return &IdentityHasher{
		salt: pbkdf2.Key([]byte(secret), []byte(saltContext), pbkdfIterations, saltLength, sha256.New),
	}
}

// Hash returns the one-way anonymized token for a credential: the SHA-256
// digest over credential || salt, lowercase hex. This token is the only
// trace of voter identity ever persisted.
func (h *IdentityHasher) Hash(credential string) string {
	hasher := sha256.New()
	hasher.Write([]byte(credential))
	hasher.Write(h.salt)
	return hex.EncodeToString(hasher.Sum(nil))
}

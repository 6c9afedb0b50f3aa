package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Stored hashes look like pbkdf2_sha256$<iterations>$<salt>$<hex digest>.
// The salt is kept as its hex text and fed to the KDF as those bytes.
const (
	pbkdf2Algorithm  = "pbkdf2_sha256"
	pbkdf2Iterations = 100000
	pbkdf2SaltBytes  = 16
	pbkdf2KeyLen     = sha256.Size
)

// HashPassword derives a self-describing salted hash of plain.
func HashPassword(plain string) (string, error) {
	raw := make([]byte, pbkdf2SaltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)

	key := pbkdf2.Key([]byte(plain), []byte(salt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	return strings.Join([]string{pbkdf2Algorithm, strconv.Itoa(pbkdf2Iterations), salt, hex.EncodeToString(key)}, "$"), nil
}

// VerifyPassword checks plain against a stored hash using the parameters embedded in it.
// bcrypt hashes are accepted as well. Anything else is a legacy plain-text record and
// only matches when the service was built with AllowLegacyPlaintext.
func (s *Service) VerifyPassword(plain, hash string) bool {
	switch {
	case hash == "":
		return false
	case strings.HasPrefix(hash, pbkdf2Algorithm+"$"):
		return verifyPBKDF2(plain, hash)
	case isBcrypt(hash):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	}

	if !s.allowLegacy {
		return false
	}

	s.logger.Warn("⚠️  Legacy plain-text password record used, re-register to hash it")

	return subtle.ConstantTimeCompare([]byte(plain), []byte(hash)) == 1
}

func verifyPBKDF2(plain, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 4 {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}

	want, err := hex.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}

	got := pbkdf2.Key([]byte(plain), []byte(parts[2]), iterations, len(want), sha256.New)

	return subtle.ConstantTimeCompare(got, want) == 1
}

func isBcrypt(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}

	return false
}

// Package cryptox holds the server-side cryptographic helpers: the
// argon2id password derivation used for account verifiers and the SHA-256
// digest used for chunk integrity.
package cryptox

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	SaltSize              = 32
	GeneratedPasswordSize = 24
)

// MakeVerifier returns the value stored as master_key_verifier.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RandomCredentials generates a fresh random password and salt and returns
// the salt together with the verifier derived from them. The password never
// leaves this function; the account owner has to reset it.
func RandomCredentials() (salt, verifier []byte) {
	password := common.GenerateRandByteArray(GeneratedPasswordSize)
	defer common.WipeByteArray(password)

	salt = common.GenerateRandByteArray(SaltSize)

	masterKey := DeriveMasterKey(password, salt)
	defer common.WipeByteArray(masterKey)

	return salt, MakeVerifier(masterKey)
}

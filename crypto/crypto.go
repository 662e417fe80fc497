package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const keyLen = 32

// Hasher derives password digests with argon2id. The digest is the hex
// encoding of a 32-byte key, so it is always 64 characters long.
type Hasher struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultHasher applies when the configuration leaves the cost unset:
// 1 pass, 64MB memory, 4 threads.
var DefaultHasher = Hasher{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

func (h Hasher) Hash(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), h.Time, h.MemoryKiB, h.Threads, keyLen)
	return hex.EncodeToString(key)
}

// Verify reports whether password matches hash. An empty salt marks a record
// imported from the legacy format, which stored an unsalted SHA-256 digest.
func (h Hasher) Verify(password, salt, hash string) bool {
	var candidate string
	if salt == "" {
		candidate = LegacyDigest(password)
	} else {
		candidate = h.Hash(password, salt)
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1
}

// LegacyDigest is the hex SHA-256 of the password bytes.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func GenerateSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DeriveKey turns an arbitrary secret into a 32-byte AES key.
func DeriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func Encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func Decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

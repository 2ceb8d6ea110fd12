package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sync"
	"time"

	"github.com/alexjbarnes/webskype/internal/models"
)

const (
	// APIKeyPrefix marks bearer tokens that are webskype API keys.
	APIKeyPrefix = "ws_"

	// apiKeyBytes is the random payload of a generated key.
	apiKeyBytes = 32

	// APIKeyMinLen is the shortest accepted key: the prefix plus 16
	// random bytes in hex.
	APIKeyMinLen = len(APIKeyPrefix) + 32
)

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// GenerateAPIKey returns a new random API key.
func GenerateAPIKey() string {
	return APIKeyPrefix + RandomHex(apiKeyBytes)
}

// HashKey returns the hex SHA-256 digest under which a key is stored.
// Keys are never persisted in plain text.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Keyring holds the API keys accepted by the MCP endpoint, indexed by
// their digest.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]models.APIKey
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]models.APIKey)}
}

// Add registers a plain-text key for userID.
func (k *Keyring) Add(userID, key string) {
	k.AddDigest(HashKey(key), models.APIKey{UserID: userID, CreatedAt: time.Now()})
}

// AddDigest registers an already hashed key, as loaded from state.
func (k *Keyring) AddDigest(digest string, ak models.APIKey) {
	k.mu.Lock()
	k.keys[digest] = ak
	k.mu.Unlock()
}

// Len returns the number of registered keys.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Validate returns the key's owner, or nil if the key is unknown.
func (k *Keyring) Validate(key string) *models.APIKey {
	digest := HashKey(key)

	k.mu.RLock()
	defer k.mu.RUnlock()

	for d, ak := range k.keys {
		if subtle.ConstantTimeCompare([]byte(d), []byte(digest)) == 1 {
			return &ak
		}
	}

	return nil
}

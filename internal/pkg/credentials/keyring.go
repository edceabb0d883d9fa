package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
)

const (
	keySize  = 32
	ivSize   = 12
	tagSize  = 16
	hkdfInfo = "taskfox/external-credentials/"
)

var (
	ErrNoKeys       = errors.New("credentials: no encryption keys configured")
	ErrUnknownKey   = errors.New("credentials: unknown encryption key")
	ErrInvalidToken = errors.New("credentials: sealed token is malformed")
)

// Sealed is one encrypted token split into the three stored columns, each
// base64 encoded.
type Sealed struct {
	Ciphertext string
	IV         string
	Tag        string
}

// IsZero reports whether nothing was sealed.
func (s Sealed) IsZero() bool {
	return s.Ciphertext == "" && s.IV == "" && s.Tag == ""
}

// Keyring holds the AES-256 keys derived from the configured secrets. New
// credentials are always sealed with the active key; any known key opens.
type Keyring struct {
	keys   map[string][]byte
	active string
}

// NewKeyring derives one AES key per secret with HKDF-SHA256.
func NewKeyring(secrets map[string]string, active string) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, ErrNoKeys
	}
	k := &Keyring{keys: make(map[string][]byte, len(secrets)), active: active}
	for id, secret := range secrets {
		if id == "" || secret == "" {
			return nil, fmt.Errorf("credentials: empty key id or secret")
		}
		derived := make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo+id)), derived); err != nil {
			return nil, fmt.Errorf("derive key %s: %w", id, err)
		}
		k.keys[id] = derived
	}
	if k.active == "" && len(k.keys) == 1 {
		for id := range k.keys {
			k.active = id
		}
	}
	if _, ok := k.keys[k.active]; !ok {
		return nil, fmt.Errorf("%w: active key %q", ErrUnknownKey, k.active)
	}
	return k, nil
}

// ParseKeyring reads a comma separated "id:secret" list.
func ParseKeyring(raw, active string) (*Keyring, error) {
	secrets := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("credentials: key entry %q is not id:secret", part)
		}
		secrets[strings.TrimSpace(id)] = strings.TrimSpace(secret)
	}
	return NewKeyring(secrets, strings.TrimSpace(active))
}

// KeyringFromEnv builds the keyring from ENCRYPTION_KEYS and ENCRYPTION_ACTIVE_KEY.
func KeyringFromEnv() (*Keyring, error) {
	return ParseKeyring(env.GetEnv("ENCRYPTION_KEYS", ""), env.GetEnv("ENCRYPTION_ACTIVE_KEY", ""))
}

func (k *Keyring) ActiveKeyID() string {
	return k.active
}

// KeyIDs returns the known key ids in sorted order.
func (k *Keyring) KeyIDs() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seal encrypts plaintext with the active key under a fresh random IV.
// An empty plaintext seals to the zero value.
func (k *Keyring) Seal(plaintext string) (Sealed, error) {
	if plaintext == "" {
		return Sealed{}, nil
	}
	gcm, err := k.gcm(k.active)
	if err != nil {
		return Sealed{}, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}
	out := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]
	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Open decrypts a token sealed with keyID.
func (k *Keyring) Open(keyID string, s Sealed) (string, error) {
	if s.IsZero() {
		return "", nil
	}
	gcm, err := k.gcm(keyID)
	if err != nil {
		return "", err
	}
	ct, err1 := base64.StdEncoding.DecodeString(s.Ciphertext)
	iv, err2 := base64.StdEncoding.DecodeString(s.IV)
	tag, err3 := base64.StdEncoding.DecodeString(s.Tag)
	if err1 != nil || err2 != nil || err3 != nil || len(iv) != ivSize || len(tag) != tagSize {
		return "", ErrInvalidToken
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return string(plain), nil
}

func (k *Keyring) gcm(keyID string) (cipher.AEAD, error) {
	key, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

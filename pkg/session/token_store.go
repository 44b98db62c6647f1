package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"igfeed/pkg/identity"
	"igfeed/pkg/models"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000

	filePrefix     = "session-"
	passphraseFile = ".passphrase"
	// keyring user holding the token passphrase
	passphraseKey = "session-passphrase"
)

var (
	ErrNoToken       = errors.New("no stored session token")
	ErrInvalidHandle = errors.New("invalid identity handle")
)

// Token is the persisted state of an authenticated session
type Token struct {
	Handle  string          `json:"handle"`
	Cookies []models.Cookie `json:"cookies"`
	SavedAt time.Time       `json:"saved_at"`
}

// TokenStore keeps one encrypted token file per identity handle
type TokenStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

type tokenFile struct {
	Version   int       `json:"version"`
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Modified  time.Time `json:"modified"`
}

// NewTokenStore creates the token directory. An empty passphrase is resolved
// from the OS keyring, falling back to a generated passphrase file.
func NewTokenStore(dir, passphrase string) (*TokenStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	if passphrase == "" {
		var err error
		passphrase, err = resolvePassphrase(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to get passphrase: %w", err)
		}
	}

	return &TokenStore{dir: dir, passphrase: passphrase}, nil
}

// Path returns the token file location for handle
func (s *TokenStore) Path(handle string) string {
	return filepath.Join(s.dir, filePrefix+handle)
}

// Load reads and decrypts the token for handle
func (s *TokenStore) Load(handle string) (*Token, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.Path(handle))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read session token: %w", err)
	}

	var file tokenFile
	if err := json.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(file.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session token: %w", err)
	}

	plain, err := decrypt(sealed, deriveKey(s.passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session token: %w", err)
	}

	var token Token
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	return &token, nil
}

// Save encrypts token and atomically replaces the handle's file
func (s *TokenStore) Save(token *Token) error {
	if token == nil {
		return errors.New("nil session token")
	}
	if err := validateHandle(token.Handle); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	plain, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal session token: %w", err)
	}

	sealed, err := encrypt(plain, deriveKey(s.passphrase, salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt session token: %w", err)
	}

	content, err := json.MarshalIndent(tokenFile{
		Version:   1,
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
		Modified:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token file: %w", err)
	}

	path := s.Path(token.Handle)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write session token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session token: %w", err)
	}
	return nil
}

// Delete removes the token for handle
func (s *TokenStore) Delete(handle string) error {
	if err := validateHandle(handle); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(handle)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoToken
		}
		return fmt.Errorf("failed to delete session token: %w", err)
	}
	return nil
}

func validateHandle(handle string) error {
	if handle == "" || handle != filepath.Base(handle) || strings.HasPrefix(handle, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return nil
}

// resolvePassphrase reads the passphrase from the keyring, then from the
// passphrase file, generating and persisting one on first use
func resolvePassphrase(dir string) (string, error) {
	if pass, err := keyring.Get(identity.KeyringService, passphraseKey); err == nil && pass != "" {
		return pass, nil
	}

	path := filepath.Join(dir, passphraseFile)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return strings.TrimSpace(string(content)), nil
	}

	passphrase, err := generatePassphrase()
	if err != nil {
		return "", err
	}

	if err := keyring.Set(identity.KeyringService, passphraseKey, passphrase); err == nil {
		return passphrase, nil
	}

	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func generatePassphrase() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

// encrypt seals plaintext with AES-GCM, prefixing the nonce
func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

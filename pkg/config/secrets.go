package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// On-disk layout of the provider key vault: salt | nonce | AES-GCM sealed JSON.
const (
	secretsFileName = "secrets.json.enc"
	secretsFileMode = 0o600
	saltSize        = 16
	nonceSize       = 12
	gcmTagSize      = 16
	scryptN         = 1 << 15
	scryptR         = 8
	scryptP         = 1
	keySize         = 32
)

// Sentinel errors for secret lookup.
var (
	ErrSecretNotFound = errors.New("secret not found in secrets file or environment")
	ErrWrongPassword  = errors.New("decryption failed (wrong password or corrupted file)")
)

// vault holds the unlocked provider keys and the project password used for
// API basic auth. Both live only in process memory.
type vault struct {
	mu       sync.RWMutex
	secrets  map[string]string
	password string
}

//nolint:gochecknoglobals // process-wide unlocked secrets
var keys = &vault{}

// SetProjectPassword remembers the password that unlocked the vault.
func SetProjectPassword(password string) {
	keys.mu.Lock()
	keys.password = password
	keys.mu.Unlock()
}

// GetProjectPassword returns the remembered password, or "" when locked.
func GetProjectPassword() string {
	keys.mu.RLock()
	defer keys.mu.RUnlock()
	return keys.password
}

// ClearProjectPassword forgets the password. API auth turns off.
func ClearProjectPassword() {
	keys.mu.Lock()
	keys.password = ""
	keys.mu.Unlock()
}

// SetDecryptedSecrets replaces the unlocked secrets. nil locks the vault.
func SetDecryptedSecrets(secrets map[string]string) {
	keys.mu.Lock()
	keys.secrets = secrets
	keys.mu.Unlock()
}

// GetSecret looks name up in the unlocked vault, then in the environment.
func GetSecret(name string) (string, error) {
	keys.mu.RLock()
	value := keys.secrets[name]
	keys.mu.RUnlock()
	if value != "" {
		return value, nil
	}
	if value = os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// GetDecryptedSecretNames lists the unlocked secret names in sorted order.
func GetDecryptedSecretNames() []string {
	keys.mu.RLock()
	defer keys.mu.RUnlock()
	return slices.Sorted(maps.Keys(keys.secrets))
}

// SetSecret stores a value in memory. SaveSecretsToFile persists it.
func SetSecret(name, value string) error {
	if name == "" {
		return errors.New("secret name must not be empty")
	}
	keys.mu.Lock()
	defer keys.mu.Unlock()
	if keys.secrets == nil {
		keys.secrets = make(map[string]string)
	}
	keys.secrets[name] = value
	return nil
}

// DeleteSecret removes name from memory. Missing names are ignored.
func DeleteSecret(name string) error {
	keys.mu.Lock()
	delete(keys.secrets, name)
	keys.mu.Unlock()
	return nil
}

// SaveSecretsToFile seals a snapshot of the unlocked secrets into dir.
func SaveSecretsToFile(dir, password string) error {
	keys.mu.RLock()
	snapshot := maps.Clone(keys.secrets)
	keys.mu.RUnlock()
	if snapshot == nil {
		snapshot = map[string]string{}
	}
	return EncryptSecretsFile(dir, password, snapshot)
}

// SecretsFileExists reports whether dir holds a sealed secrets file.
func SecretsFileExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, secretsFileName))
	return err == nil
}

// newAEAD derives an AES-256-GCM cipher from password and salt with scrypt.
func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// EncryptSecretsFile seals secrets into dir/secrets.json.enc with mode 0600,
// creating dir when needed.
func EncryptSecretsFile(dir, password string, secrets map[string]string) error {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	defer clear(plaintext)

	header := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(header); err != nil {
		return fmt.Errorf("failed to read random bytes: %w", err)
	}
	salt, nonce := header[:saltSize], header[saltSize:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return err
	}
	sealed := aead.Seal(header, nonce, plaintext, nil)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, secretsFileName), sealed, secretsFileMode); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// DecryptSecretsFile opens dir/secrets.json.enc. A file with loose
// permissions is tightened to 0600 before reading.
func DecryptSecretsFile(dir, password string) (map[string]string, error) {
	path := filepath.Join(dir, secretsFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}
	if perm := info.Mode().Perm(); perm != secretsFileMode {
		LogInfo("⚠️  %s has mode %04o, resetting to 0600", path, perm)
		if err := os.Chmod(path, secretsFileMode); err != nil {
			return nil, fmt.Errorf("failed to fix file permissions: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	if len(data) < saltSize+nonceSize+gcmTagSize {
		return nil, fmt.Errorf("secrets file %s is truncated or not a secrets file", path)
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, data[saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	defer clear(plaintext)

	secrets := map[string]string{}
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return secrets, nil
}

// LoadSecrets decrypts dir's secrets file into memory. A missing file is not an error.
func LoadSecrets(dir, password string) error {
	if !SecretsFileExists(dir) {
		return nil
	}
	secrets, err := DecryptSecretsFile(dir, password)
	if err != nil {
		return err
	}
	SetDecryptedSecrets(secrets)
	LogInfo("🔐 Unlocked %d provider secrets from %s", len(secrets), dir)
	return nil
}

// APIKeyEnvVar returns the secret name holding the provider's API key.
// Ollama runs locally and needs none.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGoogle:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// GetAPIKey returns the API key for provider from the secrets file or environment.
func GetAPIKey(provider string) (string, error) {
	name := APIKeyEnvVar(provider)
	if name == "" {
		if provider == ProviderOllama {
			return "", nil
		}
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return GetSecret(name)
}

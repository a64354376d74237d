package core

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrNoUserKey     = errors.New("no API key found for user")
	ErrNoMasterKey   = errors.New("master key not configured")
	ErrDecryptAPIKey = errors.New("failed to decrypt API key")
)

var masterKeySalt = []byte("verdictbot/users/v1")

type UsersConfig struct {
	FilePath string `toml:"file_path"`
	// GlobalLimit is the token budget per user on the shared key. Zero
	// disables the shared key, negative means unlimited.
	GlobalLimit int    `toml:"global_limit"`
	MasterKey   string `toml:"master_key"`
	// AutosaveSeconds controls how often usage counters are flushed.
	AutosaveSeconds int `toml:"autosave_seconds"`
}

// Preferences are the per-user judging settings.
type Preferences struct {
	Mode         string `json:"mode,omitempty"`
	Model        string `json:"model,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

type UserRecord struct {
	UserID     string   `json:"user_id"`
	TokenCount int      `json:"token_count"`
	Judged     int      `json:"judged"`
	APIKey     []byte   `json:"api_key"`
	Nonce      [24]byte `json:"nonce"`

	Preferences
}

// UserStore keeps per-user API keys (encrypted at rest), token usage and
// preferences, persisted to a JSON file.
type UserStore struct {
	mu          sync.RWMutex
	users       map[string]*UserRecord
	filePath    string
	masterKey   [32]byte
	hasMaster   bool
	globalLimit int
	dirty       bool

	log  zerolog.Logger
	stop chan struct{}
	done chan struct{}
}

func NewUserStore(cfg UsersConfig, log zerolog.Logger) (*UserStore, error) {
	us := &UserStore{
		users:       make(map[string]*UserRecord),
		filePath:    cfg.FilePath,
		globalLimit: cfg.GlobalLimit,
		log:         log.With().Str("component", "users").Logger(),
	}

	if cfg.MasterKey != "" {
		copy(us.masterKey[:], argon2.IDKey([]byte(cfg.MasterKey), masterKeySalt, 1, 64*1024, 4, 32))
		us.hasMaster = true
	}

	if err := us.load(); err != nil {
		return nil, err
	}

	if cfg.AutosaveSeconds > 0 && us.filePath != "" {
		us.stop = make(chan struct{})
		us.done = make(chan struct{})
		go us.autoSaveLoop(time.Duration(cfg.AutosaveSeconds) * time.Second)
	}
	return us, nil
}

func (us *UserStore) autoSaveLoop(every time.Duration) {
	defer close(us.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			us.mu.Lock()
			if us.dirty {
				if err := us.saveLocked(); err != nil {
					us.log.Error().Err(err).Msg("Failed to save users file")
				}
			}
			us.mu.Unlock()
		case <-us.stop:
			return
		}
	}
}

// Close stops the autosave loop and flushes pending changes.
func (us *UserStore) Close() error {
	if us.stop != nil {
		close(us.stop)
		<-us.done
		us.stop = nil
	}
	us.mu.Lock()
	defer us.mu.Unlock()
	if !us.dirty {
		return nil
	}
	return us.saveLocked()
}

func (us *UserStore) load() error {
	if us.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(us.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load users file: %w", err)
	}
	if err := json.Unmarshal(data, &us.users); err != nil {
		return fmt.Errorf("failed to parse users file: %w", err)
	}
	if us.users == nil {
		us.users = make(map[string]*UserRecord)
	}
	for id, u := range us.users {
		if u == nil {
			delete(us.users, id)
		}
	}
	return nil
}

func (us *UserStore) saveLocked() error {
	if us.filePath == "" {
		us.dirty = false
		return nil
	}
	data, err := json.Marshal(us.users)
	if err != nil {
		return fmt.Errorf("failed to marshal users: %w", err)
	}
	if err := writeFileAtomic(us.filePath, data); err != nil {
		return fmt.Errorf("failed to save users file: %w", err)
	}
	us.dirty = false
	return nil
}

func (us *UserStore) userLocked(userID string) *UserRecord {
	u := us.users[userID]
	if u == nil {
		u = &UserRecord{UserID: userID}
		us.users[userID] = u
	}
	return u
}

func (us *UserStore) encryptAPIKey(apiKey string) ([]byte, [24]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nonce, err
	}
	return secretbox.Seal(nil, []byte(apiKey), &nonce, &us.masterKey), nonce, nil
}

func (us *UserStore) decryptAPIKey(encrypted []byte, nonce [24]byte) (string, error) {
	decrypted, ok := secretbox.Open(nil, encrypted, &nonce, &us.masterKey)
	if !ok {
		return "", ErrDecryptAPIKey
	}
	return string(decrypted), nil
}

func (us *UserStore) SetUserAPIKey(userID, apiKey string) error {
	if !us.hasMaster {
		return ErrNoMasterKey
	}

	us.mu.Lock()
	defer us.mu.Unlock()

	encrypted, nonce, err := us.encryptAPIKey(apiKey)
	if err != nil {
		return err
	}
	u := us.userLocked(userID)
	u.APIKey = encrypted
	u.Nonce = nonce
	return us.saveLocked()
}

// DeleteUserAPIKey removes the user's key and returns it so callers can
// drop clients built from it.
func (us *UserStore) DeleteUserAPIKey(userID string) (string, error) {
	us.mu.Lock()
	defer us.mu.Unlock()

	u, ok := us.users[userID]
	if !ok || u.APIKey == nil {
		return "", ErrNoUserKey
	}
	old, _ := us.decryptAPIKey(u.APIKey, u.Nonce)
	u.APIKey = nil
	u.Nonce = [24]byte{}
	return old, us.saveLocked()
}

func (us *UserStore) GetUserAPIKey(userID string) (string, error) {
	us.mu.RLock()
	defer us.mu.RUnlock()

	u, ok := us.users[userID]
	if !ok || u.APIKey == nil {
		return "", ErrNoUserKey
	}
	return us.decryptAPIKey(u.APIKey, u.Nonce)
}

// CanUseAPI reports whether userID may make a request: always with their
// own key, otherwise while under the shared budget.
func (us *UserStore) CanUseAPI(userID string) bool {
	us.mu.RLock()
	defer us.mu.RUnlock()

	u, ok := us.users[userID]
	if ok && u.APIKey != nil {
		return true
	}
	switch {
	case us.globalLimit < 0:
		return true
	case us.globalLimit == 0:
		return false
	case ok && u.TokenCount >= us.globalLimit:
		return false
	}
	return true
}

// RecordUsage counts a judgement. Tokens spent on the user's own key are
// not charged against the shared budget.
func (us *UserStore) RecordUsage(userID string, tokens int) {
	us.mu.Lock()
	defer us.mu.Unlock()

	u := us.userLocked(userID)
	u.Judged++
	if u.APIKey == nil {
		u.TokenCount += tokens
	}
	us.dirty = true
}

// GetUserStats returns tokens charged, judgements made and whether the
// user has their own key.
func (us *UserStore) GetUserStats(userID string) (tokens, judged int, hasKey bool) {
	us.mu.RLock()
	defer us.mu.RUnlock()

	u, ok := us.users[userID]
	if !ok {
		return 0, 0, false
	}
	return u.TokenCount, u.Judged, u.APIKey != nil
}

func (us *UserStore) GlobalLimit() int { return us.globalLimit }

func (us *UserStore) GetPreferences(userID string) Preferences {
	us.mu.RLock()
	defer us.mu.RUnlock()

	if u, ok := us.users[userID]; ok {
		return u.Preferences
	}
	return Preferences{}
}

func (us *UserStore) UpdatePreferences(userID string, update func(*Preferences)) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	update(&us.userLocked(userID).Preferences)
	return us.saveLocked()
}

// writeFileAtomic replaces path with data via a temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

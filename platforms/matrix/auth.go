package matrix

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/term"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var (
	ErrWrongPassword     = errors.New("failed to decrypt credentials - wrong password?")
	ErrLegacyCredentials = errors.New("legacy credentials file detected (no salt); delete it and log in again")
)

type Config struct {
	Enabled           bool   `toml:"enabled"`
	Homeserver        string `toml:"homeserver"`
	UserID            string `toml:"user_id"`
	Password          string `toml:"-"`
	CredentialsDBPath string `toml:"credentials_db_path"`
	CryptoDBPath      string `toml:"crypto_db_path"`
	PickleKey         string `toml:"pickle_key"`
	AutoJoinInvites   bool   `toml:"auto_join_invites"`
	DisplayName       string `toml:"display_name"`
}

// CredentialStore is the on-disk session. The access token is sealed with a
// key derived from the account password.
type CredentialStore struct {
	Homeserver    string   `json:"homeserver"`
	UserID        string   `json:"user_id"`
	DeviceID      string   `json:"device_id"`
	EncryptedData []byte   `json:"encrypted_data"`
	Nonce         [24]byte `json:"nonce"`
	Salt          []byte   `json:"salt"`
}

func deriveKey(password string, salt []byte) [32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32))
	return key
}

// sealToken returns a store holding token encrypted under password.
func sealToken(homeserver, userID, deviceID, token, password string) (*CredentialStore, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	key := deriveKey(password, salt)
	return &CredentialStore{
		Homeserver:    homeserver,
		UserID:        userID,
		DeviceID:      deviceID,
		EncryptedData: secretbox.Seal(nil, []byte(token), &nonce, &key),
		Nonce:         nonce,
		Salt:          salt,
	}, nil
}

// OpenToken decrypts the access token.
func (s *CredentialStore) OpenToken(password string) (string, error) {
	if len(s.Salt) == 0 {
		return "", ErrLegacyCredentials
	}
	key := deriveKey(password, s.Salt)
	token, ok := secretbox.Open(nil, s.EncryptedData, &s.Nonce, &key)
	if !ok {
		return "", ErrWrongPassword
	}
	return string(token), nil
}

func readCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var store CredentialStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &store, nil
}

func writeCredentials(path string, store *CredentialStore) error {
	data, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

func getPassword(cfg *Config) (string, error) {
	if cfg.Password != "" {
		return cfg.Password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no password: set MATRIX_PASSWORD or run interactively")
	}

	fmt.Fprint(os.Stderr, "🔑 Enter Matrix password (or set MATRIX_PASSWORD): ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func loadCredentials(path, password string) (*mautrix.Client, error) {
	store, err := readCredentials(path)
	if err != nil {
		return nil, err
	}
	token, err := store.OpenToken(password)
	if err != nil {
		return nil, err
	}

	client, err := mautrix.NewClient(store.Homeserver, id.UserID(store.UserID), token)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	client.DeviceID = id.DeviceID(store.DeviceID)
	return client, nil
}

func loginAndSaveCredentials(ctx context.Context, cfg *Config, password string) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: cfg.UserID,
		},
		Password:                 password,
		InitialDeviceDisplayName: cfg.DisplayName,
		StoreCredentials:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	store, err := sealToken(cfg.Homeserver, cfg.UserID, string(resp.DeviceID), resp.AccessToken, password)
	if err != nil {
		return nil, err
	}
	if err := writeCredentials(cfg.CredentialsDBPath, store); err != nil {
		return nil, err
	}
	return client, nil
}

// GetMatrixClient logs in on first run and reuses the stored session
// afterwards.
func GetMatrixClient(ctx context.Context, cfg *Config, log zerolog.Logger) (*mautrix.Client, error) {
	password, err := getPassword(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get password: %w", err)
	}

	var client *mautrix.Client
	if _, err := os.Stat(cfg.CredentialsDBPath); os.IsNotExist(err) {
		log.Info().Str("homeserver", cfg.Homeserver).Str("user_id", cfg.UserID).Msg("First-time login")
		client, err = loginAndSaveCredentials(ctx, cfg, password)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.CredentialsDBPath).Msg("Credentials saved")
	} else {
		log.Info().Str("path", cfg.CredentialsDBPath).Msg("Loading existing session")
		client, err = loadCredentials(cfg.CredentialsDBPath, password)
		if err != nil {
			return nil, err
		}
	}

	client.Log = log.With().Str("component", "mautrix").Logger()
	return client, nil
}

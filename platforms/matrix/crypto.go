package matrix

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

const defaultPickleKey = "verdictbot-pickle-key"

// InitCrypto enables end-to-end encryption backed by a sqlite store at
// dbPath. An empty dbPath leaves encryption off.
func InitCrypto(ctx context.Context, client *mautrix.Client, dbPath, pickleKey string, log zerolog.Logger) (*cryptohelper.CryptoHelper, error) {
	if dbPath == "" {
		log.Warn().Msg("Crypto DB path not set, E2EE disabled")
		return nil, nil
	}

	if pickleKey == "" {
		log.Warn().Msg("pickle_key not set, using the built-in default")
		pickleKey = defaultPickleKey
	}

	helper, err := cryptohelper.NewCryptoHelper(client, []byte(pickleKey), dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init crypto: %w", err)
	}

	client.Crypto = helper
	log.Info().Str("device_id", string(client.DeviceID)).Msg("End-to-end encryption initialized")
	return helper, nil
}

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrNoFavorite = errors.New("no such favorite")

type FavoritesConfig struct {
	FilePath string `toml:"file_path"`
	// Limit caps favorites per user; the oldest is dropped first.
	Limit int `toml:"limit"`
}

// FavoriteResult is a saved judgement.
type FavoriteResult struct {
	Model  string `json:"model"`
	Mode   string `json:"mode"`
	Image  string `json:"image"`
	Time   int64  `json:"time"` // unix milliseconds
	Result string `json:"result"`
}

func FavoriteFromJudgement(j Judgement) FavoriteResult {
	return FavoriteResult{
		Model:  j.Model,
		Mode:   j.Mode,
		Image:  j.Image,
		Time:   j.Time.UnixMilli(),
		Result: j.Result.RawText,
	}
}

type FavoriteStore struct {
	mu       sync.RWMutex
	users    map[string][]FavoriteResult
	filePath string
	limit    int
}

func NewFavoriteStore(cfg FavoritesConfig) (*FavoriteStore, error) {
	fs := &FavoriteStore{
		users:    make(map[string][]FavoriteResult),
		filePath: cfg.FilePath,
		limit:    cfg.Limit,
	}
	if fs.filePath == "" {
		return fs, nil
	}
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("failed to load favorites file: %w", err)
	}
	if err := json.Unmarshal(data, &fs.users); err != nil {
		return nil, fmt.Errorf("failed to parse favorites file: %w", err)
	}
	if fs.users == nil {
		fs.users = make(map[string][]FavoriteResult)
	}
	return fs, nil
}

func (fs *FavoriteStore) saveLocked() error {
	if fs.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(fs.users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal favorites: %w", err)
	}
	if err := writeFileAtomic(fs.filePath, data); err != nil {
		return fmt.Errorf("failed to save favorites file: %w", err)
	}
	return nil
}

// Add saves fav unless an identical entry exists. It reports whether the
// favorite was new.
func (fs *FavoriteStore) Add(userID string, fav FavoriteResult) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	list := fs.users[userID]
	for _, f := range list {
		if f == fav {
			return false, nil
		}
	}
	list = append(list, fav)
	if fs.limit > 0 && len(list) > fs.limit {
		list = list[len(list)-fs.limit:]
	}
	fs.users[userID] = list
	return true, fs.saveLocked()
}

func (fs *FavoriteStore) List(userID string) []FavoriteResult {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	list := fs.users[userID]
	out := make([]FavoriteResult, len(list))
	copy(out, list)
	return out
}

// Remove deletes the favorite at the 1-based index shown by List.
func (fs *FavoriteStore) Remove(userID string, index int) (FavoriteResult, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	list := fs.users[userID]
	if index < 1 || index > len(list) {
		return FavoriteResult{}, ErrNoFavorite
	}
	removed := list[index-1]
	list = append(list[:index-1:index-1], list[index:]...)
	if len(list) == 0 {
		delete(fs.users, userID)
	} else {
		fs.users[userID] = list
	}
	return removed, fs.saveLocked()
}

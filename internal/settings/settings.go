// Package settings persists per-guild configuration as a single JSON file.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store maps guild IDs to their bound music channel. The whole file is
// rewritten on every change; the mapping is small and this keeps the on-disk
// state trivially consistent.
type Store struct {
	path   string
	logger *zap.Logger

	mutex    sync.RWMutex
	channels map[string]string
}

// NewStore loads the mapping from path, starting empty when the file does
// not exist yet.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   logger,
		channels: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No settings file yet, starting empty", zap.String("path", path))
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := json.Unmarshal(data, &s.channels); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	logger.Info("Loaded settings",
		zap.String("path", path),
		zap.Int("guilds", len(s.channels)))
	return s, nil
}

// ChannelID returns the music channel bound to the guild, if any.
func (s *Store) ChannelID(guildID string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	channelID, ok := s.channels[guildID]
	return channelID, ok
}

// SetChannelID binds channelID as the guild's music channel and rewrites
// the settings file.
func (s *Store) SetChannelID(guildID, channelID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous, had := s.channels[guildID]
	s.channels[guildID] = channelID

	if err := s.save(); err != nil {
		// roll the in-memory state back so memory and disk stay in sync
		if had {
			s.channels[guildID] = previous
		} else {
			delete(s.channels, guildID)
		}
		return err
	}
	return nil
}

// save rewrites the settings file in full. Caller must hold the write lock.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.channels, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tsstatus/internal/domain"
)

// record is the on-disk layout. A cleared display is stored with null
// fields rather than removed, so operators can tell "cleared" from "never set".
type record struct {
	MessageID  *snowflake.ID `json:"messageId"`
	ChannelID  *snowflake.ID `json:"channelId"`
	GuildID    *snowflake.ID `json:"guildId"`
	LastUpdate *time.Time    `json:"lastUpdate"`
	LastState  *string       `json:"lastState"`
}

// FileStore keeps the display reference in a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load returns a zero reference when the file does not exist yet.
func (s *FileStore) Load() (domain.DisplayRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("module", "store").Str("path", s.path).Msg("no display record yet")
		return domain.DisplayRef{}, nil
	}
	if err != nil {
		return domain.DisplayRef{}, fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, s.path, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt record is treated like a missing one; the display can be
		// recreated by command.
		log.Warn().Err(err).Str("module", "store").Str("path", s.path).Msg("ignoring unreadable display record")
		return domain.DisplayRef{}, nil
	}
	return rec.toRef(), nil
}

// Save replaces the record atomically: a crash leaves either the old or
// the new file, never a partial one.
func (s *FileStore) Save(ref domain.DisplayRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(fromRef(ref), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %w", domain.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", domain.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: rename: %w", domain.ErrPersistence, err)
	}
	return nil
}

func fromRef(ref domain.DisplayRef) record {
	if !ref.Active() {
		return record{}
	}
	rec := record{
		MessageID: &ref.MessageID,
		ChannelID: &ref.ChannelID,
	}
	if ref.GuildID != 0 {
		rec.GuildID = &ref.GuildID
	}
	if !ref.LastUpdateAt.IsZero() {
		ts := ref.LastUpdateAt.UTC()
		rec.LastUpdate = &ts
	}
	if ref.Fingerprint != "" {
		rec.LastState = &ref.Fingerprint
	}
	return rec
}

func (r record) toRef() domain.DisplayRef {
	if r.MessageID == nil || r.ChannelID == nil || *r.MessageID == 0 || *r.ChannelID == 0 {
		return domain.DisplayRef{}
	}
	ref := domain.DisplayRef{
		MessageID: *r.MessageID,
		ChannelID: *r.ChannelID,
	}
	if r.GuildID != nil {
		ref.GuildID = *r.GuildID
	}
	if r.LastUpdate != nil {
		ref.LastUpdateAt = *r.LastUpdate
	}
	if r.LastState != nil {
		ref.Fingerprint = *r.LastState
	}
	return ref
}

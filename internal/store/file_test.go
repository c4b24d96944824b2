package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/tsstatus/internal/domain"
)

func TestLoad_MissingFileIsFirstRun(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "embedData.json"))
	ref, err := s.Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if ref.Active() {
		t.Fatalf("expected empty ref, got %+v", ref)
	}
}

func TestSaveLoad(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "embedData.json"))
	want := domain.DisplayRef{
		MessageID:    1234567890123456789,
		ChannelID:    987654321098765432,
		GuildID:      111,
		Fingerprint:  "abc",
		LastUpdateAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save err=%v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if got.MessageID != want.MessageID || got.ChannelID != want.ChannelID || got.GuildID != want.GuildID ||
		got.Fingerprint != want.Fingerprint || !got.LastUpdateAt.Equal(want.LastUpdateAt) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSave_ClearedWritesNulls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedData.json")
	s := NewFileStore(path)
	if err := s.Save(domain.DisplayRef{MessageID: 1, ChannelID: 2}); err != nil {
		t.Fatalf("Save err=%v", err)
	}
	if err := s.Save(domain.DisplayRef{}); err != nil {
		t.Fatalf("Save err=%v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, key := range []string{`"messageId": null`, `"channelId": null`, `"lastUpdate": null`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("%s missing from %s", key, data)
		}
	}
	ref, err := s.Load()
	if err != nil || ref.Active() {
		t.Fatalf("cleared record loaded as %+v, %v", ref, err)
	}
}

func TestSave_IDsAreStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedData.json")
	s := NewFileStore(path)
	if err := s.Save(domain.DisplayRef{MessageID: 42, ChannelID: 7}); err != nil {
		t.Fatalf("Save err=%v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"messageId": "42"`) {
		t.Fatalf("message id not stored as string: %s", data)
	}
}

func TestLoad_ExternalRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedData.json")
	raw := `{
  "messageId": "1200000000000000001",
  "channelId": "1200000000000000002",
  "guildId": "1200000000000000003",
  "lastUpdate": "2024-05-01T12:00:00.000Z",
  "lastState": null
}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if ref.MessageID != 1200000000000000001 || ref.GuildID != 1200000000000000003 || ref.Fingerprint != "" {
		t.Fatalf("unexpected ref %+v", ref)
	}
}

func TestLoad_CorruptIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedData.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := NewFileStore(path).Load()
	if err != nil || ref.Active() {
		t.Fatalf("corrupt record: %+v, %v", ref, err)
	}
}

func TestSave_Failure(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing", "embedData.json"))
	err := s.Save(domain.DisplayRef{MessageID: 1, ChannelID: 2})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

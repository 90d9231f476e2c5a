package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if _, ok := store.ChannelID("guild1"); ok {
		t.Error("Empty store should not have any channel bindings")
	}
}

func TestStore_SetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if err := store.SetChannelID("guild1", "channel1"); err != nil {
		t.Fatalf("SetChannelID() error = %v", err)
	}

	channelID, ok := store.ChannelID("guild1")
	if !ok || channelID != "channel1" {
		t.Errorf("ChannelID() = %q, %v, expected channel1, true", channelID, ok)
	}

	// rebinding overwrites
	if err := store.SetChannelID("guild1", "channel2"); err != nil {
		t.Fatalf("SetChannelID() error = %v", err)
	}
	channelID, _ = store.ChannelID("guild1")
	if channelID != "channel2" {
		t.Errorf("ChannelID() after rebind = %q, expected channel2", channelID)
	}
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.SetChannelID("guild1", "channel1"); err != nil {
		t.Fatalf("SetChannelID() error = %v", err)
	}
	if err := store.SetChannelID("guild2", "channel2"); err != nil {
		t.Fatalf("SetChannelID() error = %v", err)
	}

	reloaded, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() reload error = %v", err)
	}

	for guildID, expected := range map[string]string{"guild1": "channel1", "guild2": "channel2"} {
		channelID, ok := reloaded.ChannelID(guildID)
		if !ok || channelID != expected {
			t.Errorf("ChannelID(%s) = %q, %v, expected %s, true", guildID, channelID, ok, expected)
		}
	}
}

func TestStore_FileIsFullRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewStore(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.SetChannelID("guild1", "channel1"); err != nil {
		t.Fatalf("SetChannelID() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var onDisk map[string]string
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("Settings file is not valid JSON: %v", err)
	}
	if len(onDisk) != 1 || onDisk["guild1"] != "channel1" {
		t.Errorf("On-disk settings = %v, expected map[guild1:channel1]", onDisk)
	}
}

func TestStore_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := NewStore(path, zap.NewNop()); err == nil {
		t.Error("NewStore() should fail on corrupt settings file")
	}
}

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat-backend/internal/config"
	"aichat-backend/internal/model"
)

func newSession(id string, updated time.Time) *model.Session {
	return &model.Session{
		ID:        id,
		Title:     "Session " + id,
		Messages:  []model.Message{},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func userMessage(id, text string) *model.Message {
	return &model.Message{
		ID:        id,
		Role:      model.RoleUser,
		Parts:     []model.Part{model.TextPart(text)},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

type backend struct {
	name string
	open func(t *testing.T) Storage
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Storage {
			return NewMemoryStorage()
		}},
		{"disk", func(t *testing.T) Storage {
			s := NewDiskStorage(t.TempDir(), 2)
			require.NoError(t, s.Init())
			return s
		}},
		{"sqlite", func(t *testing.T) Storage {
			s, err := OpenGormStorage("sqlite", filepath.Join(t.TempDir(), "chat.db"))
			require.NoError(t, err)
			require.NoError(t, s.Init())
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
}

func TestStorage_SessionLifecycle(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			now := time.Now().UTC().Truncate(time.Second)

			require.NoError(t, s.CreateSession(newSession("a", now)))
			assert.ErrorIs(t, s.CreateSession(newSession("a", now)), ErrSessionExists)

			got, err := s.GetSession("a")
			require.NoError(t, err)
			assert.Equal(t, "Session a", got.Title)
			assert.Empty(t, got.Messages)

			got.Title = "Renamed"
			require.NoError(t, s.UpdateSession(got))
			again, err := s.GetSession("a")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", again.Title)

			_, err = s.GetSession("missing")
			assert.ErrorIs(t, err, ErrSessionNotFound)
			assert.ErrorIs(t, s.UpdateSession(newSession("missing", now)), ErrSessionNotFound)
		})
	}
}

func TestStorage_Messages(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			require.NoError(t, s.CreateSession(newSession("a", time.Now().Add(-time.Hour))))

			require.NoError(t, s.AddMessage("a", userMessage("1", "hi")))
			assistant := &model.Message{
				ID:           "2",
				Role:         model.RoleAssistant,
				Parts:        []model.Part{},
				IsMultiModel: true,
				MultiModelResponses: []model.ModelResponse{
					{Model: "m1", Parts: []model.Part{model.TextPart("one")}, Show: true},
					{Model: "m2", Parts: []model.Part{model.TextPart("two")}, Show: true},
				},
			}
			require.NoError(t, s.AddMessage("a", assistant))

			require.NoError(t, assistant.SelectModel("m2"))
			assistant.Metadata = &model.ComparisonMetadata{SelectedModel: "m2", Reasoning: "clearer", ComparedModels: []string{"m1", "m2"}}
			require.NoError(t, s.UpdateMessage("a", assistant))

			got, err := s.GetSession("a")
			require.NoError(t, err)
			require.Len(t, got.Messages, 2)
			assert.Equal(t, "hi", got.Messages[0].Parts[0].Text)
			assert.Equal(t, "m2", got.Messages[1].SelectedResponse().Model)
			assert.False(t, got.Messages[1].Response("m1").Show)
			assert.Equal(t, "clearer", got.Messages[1].Metadata.Reasoning)
			assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)

			assert.ErrorIs(t, s.AddMessage("missing", userMessage("3", "x")), ErrSessionNotFound)
			assert.ErrorIs(t, s.UpdateMessage("a", userMessage("404", "x")), ErrMessageNotFound)
		})
	}
}

func TestStorage_ReturnsCopies(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			session := newSession("a", time.Now())
			require.NoError(t, s.CreateSession(session))
			require.NoError(t, s.AddMessage("a", userMessage("1", "hi")))

			got, err := s.GetSession("a")
			require.NoError(t, err)
			got.Messages[0].Parts[0].Text = "mutated"
			session.Title = "mutated"

			fresh, err := s.GetSession("a")
			require.NoError(t, err)
			assert.Equal(t, "hi", fresh.Messages[0].Parts[0].Text)
			assert.Equal(t, "Session a", fresh.Title)
		})
	}
}

func TestStorage_DeleteKeepsLastSession(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			now := time.Now()
			require.NoError(t, s.CreateSession(newSession("a", now)))
			require.NoError(t, s.CreateSession(newSession("b", now)))

			assert.ErrorIs(t, s.DeleteSession("missing"), ErrSessionNotFound)
			require.NoError(t, s.DeleteSession("a"))
			assert.ErrorIs(t, s.DeleteSession("b"), ErrLastSession)

			list, err := s.ListSessions()
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "b", list[0].ID)
		})
	}
}

func TestStorage_ListSessionsOrder(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			require.NoError(t, s.CreateSession(newSession("old", base)))
			require.NoError(t, s.CreateSession(newSession("mid", base.Add(time.Minute))))
			require.NoError(t, s.CreateSession(newSession("new", base.Add(2*time.Minute))))

			list, err := s.ListSessions()
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"new", "mid", "old"}, ids(list))

			require.NoError(t, s.AddMessage("old", userMessage("1", "bump")))
			list, err = s.ListSessions()
			require.NoError(t, err)
			assert.Equal(t, []string{"old", "new", "mid"}, ids(list))
			assert.Equal(t, 1, list[0].MessageCount)
		})
	}
}

func TestStorage_ListSessionsSummaryFields(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			updated := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.CreateSession(newSession("alpha", updated)))
			require.NoError(t, s.AddMessage("alpha", userMessage("1", "hi")))
			require.NoError(t, s.AddMessage("alpha", userMessage("2", "again")))

			list, err := s.ListSessions()
			require.NoError(t, err)
			require.Len(t, list, 1)
			got := list[0]
			assert.Equal(t, "alpha", got.ID)
			assert.Equal(t, "Session alpha", got.Title)
			assert.Equal(t, 2, got.MessageCount)
			assert.True(t, got.CreatedAt.Equal(updated.Add(-time.Hour)), "created at %s", got.CreatedAt)
			assert.False(t, got.UpdatedAt.Before(updated))
		})
	}
}

func TestStorage_RenameSessionKeepsMessages(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			before := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			require.NoError(t, s.CreateSession(newSession("a", before)))

			// A snapshot taken before a message lands must not be needed to rename.
			stale, err := s.GetSession("a")
			require.NoError(t, err)
			require.NoError(t, s.AddMessage("a", userMessage("1", "arrived after the snapshot")))
			require.NoError(t, s.RenameSession("a", "Renamed"))

			got, err := s.GetSession("a")
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Title)
			require.Len(t, got.Messages, 1)
			assert.Equal(t, "arrived after the snapshot", got.Messages[0].Parts[0].Text)
			assert.True(t, got.UpdatedAt.After(stale.UpdatedAt))

			assert.ErrorIs(t, s.RenameSession("missing", "x"), ErrSessionNotFound)
		})
	}
}

func ids(list []model.SessionSummary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func TestDiskStorage_ReopenAndBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 1)
	require.NoError(t, s.Init())
	require.NoError(t, s.CreateSession(newSession("a", time.Now())))
	require.NoError(t, s.CreateSession(newSession("b", time.Now())))
	require.NoError(t, s.AddMessage("a", userMessage("1", "persisted")))
	require.NoError(t, s.Backup())
	require.NoError(t, s.Close())

	reopened := NewDiskStorage(dir, 1)
	require.NoError(t, reopened.Init())
	got, err := reopened.GetSession("a")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "persisted", got.Messages[0].Parts[0].Text)

	backups, err := os.ReadDir(filepath.Join(dir, "backup"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	_, err = os.Stat(filepath.Join(dir, "backup", backups[0].Name(), "messages", "a.json"))
	assert.NoError(t, err)
}

func TestDiskStorage_RebuildsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 10)
	require.NoError(t, s.Init())
	require.NoError(t, s.CreateSession(newSession("a", time.Now())))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sessions.json"), []byte("{not json"), 0644))

	reopened := NewDiskStorage(dir, 10)
	require.NoError(t, reopened.Init())
	list, err := reopened.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(list))
}

func TestNew(t *testing.T) {
	s, err := New(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, s)

	s, err = New(config.StorageConfig{Type: "disk", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DiskStorage{}, s)

	s, err = New(config.StorageConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &GormStorage{}, s)
	_ = s.Close()

	_, err = New(config.StorageConfig{Type: "redis"})
	assert.ErrorIs(t, err, ErrStorageInit)
}

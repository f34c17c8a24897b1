package storage

import (
	"fmt"

	"aichat-backend/internal/config"
	"aichat-backend/internal/model"
)

// Storage is the durable session store. Sessions handed in or out are copies;
// callers never share memory with the store.
type Storage interface {
	// Sessions
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	// UpdateSession replaces the session, messages included.
	UpdateSession(session *model.Session) error
	// RenameSession sets the title and bumps UpdatedAt without touching messages.
	RenameSession(sessionID, title string) error
	// DeleteSession refuses with ErrLastSession when sessionID is the only session left.
	DeleteSession(sessionID string) error
	// ListSessions is sorted by UpdatedAt, most recent first.
	ListSessions() ([]model.SessionSummary, error)

	// Messages
	AddMessage(sessionID string, message *model.Message) error
	// UpdateMessage replaces the message with the same id.
	UpdateMessage(sessionID string, message *model.Message) error

	Init() error
	Close() error
	Backup() error
}

// New builds and initialises the store selected by cfg.Type.
func New(cfg config.StorageConfig) (Storage, error) {
	var s Storage
	switch cfg.Type {
	case "memory", "":
		s = NewMemoryStorage()
	case "disk":
		s = NewDiskStorage(cfg.DataDir, cfg.CacheSize)
	case "sqlite", "postgres":
		g, err := OpenGormStorage(cfg.Type, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s = g
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", ErrStorageInit, cfg.Type)
	}

	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

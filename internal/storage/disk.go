package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"aichat-backend/internal/model"
	"aichat-backend/pkg/logger"
)

// DiskStorage keeps one JSON file per session header and one per message
// list, plus a sessions.json index. Recently used sessions are cached.
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Session
	cacheSize int
	index     map[string]*SessionIndex
}

type SessionIndex struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Session),
		cacheSize: cacheSize,
		index:     make(map[string]*SessionIndex),
	}
}

func (d *DiskStorage) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized at %s with %d sessions", d.dataDir, len(d.index))
	return nil
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "sessions"),
		filepath.Join(d.dataDir, "messages"),
		filepath.Join(d.dataDir, "backup"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// loadIndex reads sessions.json, rebuilding it from the session files when it
// is missing or unreadable.
func (d *DiskStorage) loadIndex() error {
	data, err := os.ReadFile(d.indexPath())
	if err == nil {
		var entries []*SessionIndex
		if jsonErr := json.Unmarshal(data, &entries); jsonErr == nil {
			for _, e := range entries {
				d.index[e.ID] = e
			}
			return nil
		}
		logger.Warnf("session index is corrupt, rebuilding")
	} else if !os.IsNotExist(err) {
		return err
	}
	return d.rebuildIndex()
}

func (d *DiskStorage) rebuildIndex() error {
	files, err := os.ReadDir(filepath.Join(d.dataDir, "sessions"))
	if err != nil {
		return err
	}
	d.index = make(map[string]*SessionIndex)
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		sessionID := file.Name()[:len(file.Name())-len(".json")]
		session, err := d.loadSessionFromFile(sessionID)
		if err != nil {
			logger.Errorf("Failed to load session %s for index rebuild: %v", sessionID, err)
			continue
		}
		d.index[sessionID] = indexOf(session)
	}
	return d.saveIndex()
}

func indexOf(s *model.Session) *SessionIndex {
	return &SessionIndex{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
	}
}

func (d *DiskStorage) indexPath() string {
	return filepath.Join(d.dataDir, "sessions.json")
}

func (d *DiskStorage) sessionPath(id string) string {
	return filepath.Join(d.dataDir, "sessions", id+".json")
}

func (d *DiskStorage) messagesPath(id string) string {
	return filepath.Join(d.dataDir, "messages", id+".json")
}

func (d *DiskStorage) loadSessionFromFile(sessionID string) (*model.Session, error) {
	data, err := os.ReadFile(d.sessionPath(sessionID))
	if err != nil {
		return nil, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	messages, err := d.loadMessagesFromFile(sessionID)
	if err != nil {
		logger.Errorf("Failed to load messages for session %s: %v", sessionID, err)
		messages = []model.Message{}
	}
	session.Messages = messages
	return &session, nil
}

func (d *DiskStorage) loadMessagesFromFile(sessionID string) ([]model.Message, error) {
	data, err := os.ReadFile(d.messagesPath(sessionID))
	if os.IsNotExist(err) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// writeJSON writes through a temp file and rename so readers never see a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveIndex() error {
	entries := make([]*SessionIndex, 0, len(d.index))
	for _, e := range d.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return writeJSON(d.indexPath(), entries)
}

// persist writes every file of session and refreshes index and cache. Callers hold d.mu.
func (d *DiskStorage) persist(session *model.Session) error {
	header := *session
	header.Messages = nil
	if err := writeJSON(d.sessionPath(session.ID), header); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	messages := session.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	if err := writeJSON(d.messagesPath(session.ID), messages); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.index[session.ID] = indexOf(session)
	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[session.ID] = session
	d.evictCache()
	return nil
}

// load returns the cached session or reads it from disk. Callers hold d.mu.
func (d *DiskStorage) load(sessionID string) (*model.Session, error) {
	if session, ok := d.cache[sessionID]; ok {
		return session, nil
	}
	if _, ok := d.index[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	session, err := d.loadSessionFromFile(sessionID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.cache[sessionID] = session
	d.evictCache()
	return session, nil
}

func (d *DiskStorage) CreateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[session.ID]; exists {
		return ErrSessionExists
	}
	return d.persist(session.Clone())
}

func (d *DiskStorage) GetSession(sessionID string) (*model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.load(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

func (d *DiskStorage) UpdateSession(session *model.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[session.ID]; !exists {
		return ErrSessionNotFound
	}
	return d.persist(session.Clone())
}

func (d *DiskStorage) RenameSession(sessionID, title string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.load(sessionID)
	if err != nil {
		return err
	}
	updated := session.Clone()
	updated.Title = title
	updated.UpdatedAt = time.Now()
	return d.persist(updated)
}

func (d *DiskStorage) DeleteSession(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[sessionID]; !exists {
		return ErrSessionNotFound
	}
	if len(d.index) == 1 {
		return ErrLastSession
	}

	for _, p := range []string{d.sessionPath(sessionID), d.messagesPath(sessionID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	delete(d.cache, sessionID)
	delete(d.index, sessionID)
	return d.saveIndex()
}

func (d *DiskStorage) ListSessions() ([]model.SessionSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.SessionSummary, 0, len(d.index))
	for _, e := range d.index {
		out = append(out, model.SessionSummary{
			ID:           e.ID,
			Title:        e.Title,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.UpdatedAt,
			MessageCount: e.MessageCount,
		})
	}
	sortSummaries(out)
	return out, nil
}

func (d *DiskStorage) AddMessage(sessionID string, message *model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.load(sessionID)
	if err != nil {
		return err
	}
	updated := session.Clone()
	updated.Messages = append(updated.Messages, message.Clone())
	updated.UpdatedAt = time.Now()
	return d.persist(updated)
}

func (d *DiskStorage) UpdateMessage(sessionID string, message *model.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session, err := d.load(sessionID)
	if err != nil {
		return err
	}
	i := session.FindMessage(message.ID)
	if i < 0 {
		return ErrMessageNotFound
	}
	updated := session.Clone()
	updated.Messages[i] = message.Clone()
	updated.UpdatedAt = time.Now()
	return d.persist(updated)
}

func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}
	entries := make([]cacheEntry, 0, len(d.cache))
	for id, session := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: session.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Session)
	return nil
}

// Backup copies the session, message and index files into a timestamped directory.
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", fmt.Sprintf("backup_%d", time.Now().UnixNano()))
	for _, dir := range []string{"sessions", "messages"} {
		dstDir := filepath.Join(backupDir, dir)
		if err := os.MkdirAll(dstDir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
		if err := copyDir(filepath.Join(d.dataDir, dir), dstDir); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}
	if err := copyFile(d.indexPath(), filepath.Join(backupDir, "sessions.json")); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	logger.Infof("Backup completed: %s", backupDir)
	return nil
}

func copyDir(src, dst string) error {
	files, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, file.Name()), filepath.Join(dst, file.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"aichat-backend/internal/model"
)

type sessionRow struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	SessionID           string `gorm:"primaryKey"`
	ID                  string `gorm:"primaryKey"`
	Position            int    `gorm:"not null;index"`
	Role                string `gorm:"not null"`
	Parts               datatypes.JSON
	IsMultiModel        bool
	MultiModelResponses datatypes.JSON
	Metadata            datatypes.JSON
	CreatedAt           time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

// GormStorage persists sessions in SQL through gorm (sqlite or postgres).
type GormStorage struct {
	db *gorm.DB
}

func OpenGormStorage(dialect, dsn string) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported sql dialect %q", ErrStorageInit, dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageInit, dialect, err)
	}
	return NewGormStorage(db), nil
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

func (g *GormStorage) Init() error {
	if err := g.db.AutoMigrate(&sessionRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("%w: migrate: %v", ErrStorageInit, err)
	}
	return nil
}

func (g *GormStorage) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Backup is left to the database's own tooling.
func (g *GormStorage) Backup() error {
	return nil
}

func (g *GormStorage) CreateSession(session *model.Session) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&sessionRow{}).Where("id = ?", session.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrSessionExists
		}
		if err := tx.Create(toSessionRow(session)).Error; err != nil {
			return err
		}
		return insertMessages(tx, session.ID, session.Messages, 0)
	})
}

func (g *GormStorage) GetSession(sessionID string) (*model.Session, error) {
	var row sessionRow
	if err := g.db.First(&row, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var rows []messageRow
	if err := g.db.Where("session_id = ?", sessionID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:        row.ID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Messages:  make([]model.Message, 0, len(rows)),
	}
	for _, r := range rows {
		m, err := fromMessageRow(r)
		if err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, m)
	}
	return session, nil
}

func (g *GormStorage) UpdateSession(session *model.Session) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&sessionRow{}).Where("id = ?", session.ID).Updates(map[string]any{
			"title":      session.Title,
			"updated_at": session.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Where("session_id = ?", session.ID).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		return insertMessages(tx, session.ID, session.Messages, 0)
	})
}

// RenameSession only writes the session row, so it cannot race with AddMessage.
func (g *GormStorage) RenameSession(sessionID, title string) error {
	res := g.db.Model(&sessionRow{}).Where("id = ?", sessionID).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (g *GormStorage) DeleteSession(sessionID string) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&sessionRow{}).Count(&total).Error; err != nil {
			return err
		}
		var row sessionRow
		if err := tx.First(&row, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if total == 1 {
			return ErrLastSession
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&sessionRow{}, "id = ?", sessionID).Error
	})
}

func (g *GormStorage) ListSessions() ([]model.SessionSummary, error) {
	type summaryRow struct {
		ID           string
		Title        string
		CreatedAt    time.Time
		UpdatedAt    time.Time
		MessageCount int
	}
	var rows []summaryRow
	err := g.db.Model(&sessionRow{}).
		Select("chat_sessions.id, chat_sessions.title, chat_sessions.created_at, chat_sessions.updated_at, " +
			"(SELECT COUNT(*) FROM chat_messages WHERE chat_messages.session_id = chat_sessions.id) AS message_count").
		Order("chat_sessions.updated_at DESC").Order("chat_sessions.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.SessionSummary{
			ID:           r.ID,
			Title:        r.Title,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
			MessageCount: r.MessageCount,
		})
	}
	return out, nil
}

func (g *GormStorage) AddMessage(sessionID string, message *model.Message) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := touchSession(tx, sessionID); err != nil {
			return err
		}
		var next int64
		if err := tx.Model(&messageRow{}).Where("session_id = ?", sessionID).Count(&next).Error; err != nil {
			return err
		}
		return insertMessages(tx, sessionID, []model.Message{*message}, int(next))
	})
}

func (g *GormStorage) UpdateMessage(sessionID string, message *model.Message) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := touchSession(tx, sessionID); err != nil {
			return err
		}
		row, err := toMessageRow(sessionID, message, 0)
		if err != nil {
			return err
		}
		res := tx.Model(&messageRow{}).
			Where("session_id = ? AND id = ?", sessionID, message.ID).
			Updates(map[string]any{
				"role":                  row.Role,
				"parts":                 row.Parts,
				"is_multi_model":        row.IsMultiModel,
				"multi_model_responses": row.MultiModelResponses,
				"metadata":              row.Metadata,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMessageNotFound
		}
		return nil
	})
}

func touchSession(tx *gorm.DB, sessionID string) error {
	res := tx.Model(&sessionRow{}).Where("id = ?", sessionID).Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func insertMessages(tx *gorm.DB, sessionID string, messages []model.Message, offset int) error {
	if len(messages) == 0 {
		return nil
	}
	rows := make([]*messageRow, 0, len(messages))
	for i := range messages {
		row, err := toMessageRow(sessionID, &messages[i], offset+i)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return tx.Create(rows).Error
}

func toSessionRow(s *model.Session) *sessionRow {
	return &sessionRow{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toMessageRow(sessionID string, m *model.Message, position int) (*messageRow, error) {
	parts, err := marshalJSON(m.Parts)
	if err != nil {
		return nil, err
	}
	responses, err := marshalJSON(m.MultiModelResponses)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalJSON(m.Metadata)
	if err != nil {
		return nil, err
	}
	return &messageRow{
		SessionID:           sessionID,
		ID:                  m.ID,
		Position:            position,
		Role:                string(m.Role),
		Parts:               parts,
		IsMultiModel:        m.IsMultiModel,
		MultiModelResponses: responses,
		Metadata:            metadata,
		CreatedAt:           m.CreatedAt,
	}, nil
}

func fromMessageRow(r messageRow) (model.Message, error) {
	m := model.Message{
		ID:           r.ID,
		Role:         model.Role(r.Role),
		IsMultiModel: r.IsMultiModel,
		CreatedAt:    r.CreatedAt,
	}
	if err := unmarshalJSON(r.Parts, &m.Parts); err != nil {
		return m, err
	}
	if err := unmarshalJSON(r.MultiModelResponses, &m.MultiModelResponses); err != nil {
		return m, err
	}
	if err := unmarshalJSON(r.Metadata, &m.Metadata); err != nil {
		return m, err
	}
	if m.Parts == nil {
		m.Parts = []model.Part{}
	}
	return m, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON(data datatypes.JSON, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}

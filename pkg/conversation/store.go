package conversation

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// TranscriptRecord 持久化的对话轮次
type TranscriptRecord struct {
	gorm.Model
	ConversationID string    `gorm:"not null;index:idx_conversation_seq,priority:1" json:"conversation_id"`
	Seq            int       `gorm:"not null;index:idx_conversation_seq,priority:2" json:"seq"` // 对话内顺序
	Role           string    `gorm:"not null" json:"role"`
	Content        string    `gorm:"type:text" json:"content"`
	Context        string    `gorm:"type:text" json:"context,omitempty"`
	CallID         string    `json:"call_id,omitempty"`
	CallName       string    `json:"call_name,omitempty"`
	CallArguments  string    `gorm:"type:text" json:"call_arguments,omitempty"`
	At             time.Time `json:"at"`
}

// TableName 指定表名
func (TranscriptRecord) TableName() string {
	return "transcripts"
}

// TranscriptStore 基于 gorm 的对话记录存储
type TranscriptStore struct {
	db *gorm.DB
}

// NewTranscriptStore 创建存储
func NewTranscriptStore(db *gorm.DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Migrate 自动迁移表结构
func (s *TranscriptStore) Migrate() error {
	return s.db.AutoMigrate(&TranscriptRecord{})
}

// Append 追加一次 Send 产生的轮次
func (s *TranscriptStore) Append(ctx context.Context, conversationID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int64
		if err := tx.Model(&TranscriptRecord{}).
			Where("conversation_id = ?", conversationID).
			Count(&next).Error; err != nil {
			return err
		}

		records := make([]TranscriptRecord, len(turns))
		for i, t := range turns {
			records[i] = toRecord(conversationID, int(next)+i, t)
		}
		return tx.Create(&records).Error
	})
}

// Load 按顺序加载对话的全部轮次
func (s *TranscriptStore) Load(ctx context.Context, conversationID string) ([]Turn, error) {
	var records []TranscriptRecord
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, len(records))
	for i, r := range records {
		turns[i] = r.toTurn()
	}
	return turns, nil
}

// Delete 删除对话的全部记录，返回删除的条数
func (s *TranscriptStore) Delete(ctx context.Context, conversationID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&TranscriptRecord{})
	return result.RowsAffected, result.Error
}

// Conversations 列出所有有记录的对话 ID
func (s *TranscriptStore) Conversations(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&TranscriptRecord{}).
		Distinct("conversation_id").
		Order("conversation_id").
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func toRecord(conversationID string, seq int, t Turn) TranscriptRecord {
	r := TranscriptRecord{
		ConversationID: conversationID,
		Seq:            seq,
		Role:           string(t.Role),
		Content:        t.Content,
		Context:        t.Context,
		CallID:         t.CallID,
		At:             t.Timestamp,
	}
	if t.Call != nil {
		r.CallID = t.Call.ID
		r.CallName = t.Call.Name
		r.CallArguments = t.Call.Arguments
	}
	return r
}

func (r TranscriptRecord) toTurn() Turn {
	t := Turn{
		Role:      Role(r.Role),
		Content:   r.Content,
		Context:   r.Context,
		Timestamp: r.At,
	}
	if r.CallName != "" {
		t.Call = &Call{ID: r.CallID, Name: r.CallName, Arguments: r.CallArguments}
	} else {
		t.CallID = r.CallID
	}
	return t
}

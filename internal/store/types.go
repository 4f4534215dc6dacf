package store

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Thread metadata keys. externalSessionId is present iff the session
// strategy has run at least once for the thread.
const (
	MetaExternalSessionID = "externalSessionId"
	MetaStrategy          = "strategy"
	MetaModel             = "model"
	MetaAssistantConfigID = "assistantConfigId"
)

var (
	ErrConfigNotFound = errors.New("assistant config not found")
	ErrThreadNotFound = errors.New("thread not found")
	ErrFileNotFound   = errors.New("file not found")
)

// AssistantConfig is the per-assistant configuration row. External
// references stay NULL until the synchronizer establishes them.
type AssistantConfig struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Instructions        string    `json:"instructions"`
	ExternalAssistantID string    `json:"external_assistant_id,omitempty"`
	ExternalStoreID     string    `json:"external_store_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Thread is one user-visible conversation. Ownership is immutable.
type Thread struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	AssistantConfigID string         `json:"assistant_config_id"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// ExternalSessionID returns the provider session id recorded in metadata.
func (t Thread) ExternalSessionID() string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[MetaExternalSessionID].(string)
	return s
}

// Message is one persisted turn. UserID is empty for provider-authored
// turns.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	UserID    string         `json:"user_id,omitempty"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Completed bool           `json:"completed"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// File is an uploaded-file record. ExternalFileID stays empty until the
// upload pipeline (out of scope here) has pushed it to the provider.
type File struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Filename       string    `json:"filename"`
	ExternalFileID string    `json:"external_file_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateThreadInput is the input for creating a thread row.
type CreateThreadInput struct {
	UserID            string
	AssistantConfigID string
	Metadata          map[string]any
}

// CreateMessageInput is the input for persisting a message.
type CreateMessageInput struct {
	ThreadID  string
	UserID    string
	Role      string
	Content   string
	Completed bool
	Metadata  map[string]any
}

// Configs reads and repairs assistant configuration rows.
type Configs interface {
	GetConfig(ctx context.Context, id string) (AssistantConfig, error)
	SetExternalRefs(ctx context.Context, id, assistantID, storeID string) error
	ClearExternalRefs(ctx context.Context, id string) error
}

// Threads reads and writes conversation rows.
type Threads interface {
	GetThread(ctx context.Context, id string) (Thread, error)
	ListThreadsByUser(ctx context.Context, userID string) ([]Thread, error)
	CreateThread(ctx context.Context, input CreateThreadInput) (Thread, error)
	UpdateThreadMetadata(ctx context.Context, id string, metadata map[string]any) (Thread, error)
	TouchThread(ctx context.Context, id string) error
}

// Messages reads and writes turn rows.
type Messages interface {
	CreateMessage(ctx context.Context, input CreateMessageInput) (Message, error)
	ListMessagesByThread(ctx context.Context, threadID string) ([]Message, error)
}

// Files looks up uploaded-file records.
type Files interface {
	GetFileByName(ctx context.Context, userID, filename string) (File, error)
}

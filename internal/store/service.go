package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	dbpkg "github.com/campaignhq/assistant/internal/db"
)

// DBService is the pgx-backed resource store. Pure data access, no
// business logic.
type DBService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a store service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *DBService {
	if log == nil {
		log = slog.Default()
	}
	return &DBService{
		pool:   pool,
		logger: log.With(slog.String("service", "store")),
	}
}

// --- assistant configs ---

const configColumns = `id, name, instructions, external_assistant_id, external_store_id, created_at, updated_at`

func (s *DBService) GetConfig(ctx context.Context, id string) (AssistantConfig, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return AssistantConfig{}, fmt.Errorf("invalid assistant config id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+configColumns+` FROM assistant_configs WHERE id = $1`, pgID)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AssistantConfig{}, ErrConfigNotFound
	}
	return cfg, err
}

func (s *DBService) SetExternalRefs(ctx context.Context, id, assistantID, storeID string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid assistant config id: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE assistant_configs SET external_assistant_id = $2, external_store_id = $3, updated_at = now() WHERE id = $1`,
		pgID, dbpkg.ToPgText(assistantID), dbpkg.ToPgText(storeID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func (s *DBService) ClearExternalRefs(ctx context.Context, id string) error {
	return s.SetExternalRefs(ctx, id, "", "")
}

// --- threads ---

const threadColumns = `id, user_id, assistant_config_id, metadata, created_at, updated_at`

func (s *DBService) GetThread(ctx context.Context, id string) (Thread, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Thread{}, fmt.Errorf("invalid thread id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, pgID)
	thread, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrThreadNotFound
	}
	return thread, err
}

func (s *DBService) ListThreadsByUser(ctx context.Context, userID string) ([]Thread, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE user_id = $1 ORDER BY updated_at DESC`, pgUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *DBService) CreateThread(ctx context.Context, input CreateThreadInput) (Thread, error) {
	pgUserID, err := dbpkg.ParseUUID(input.UserID)
	if err != nil {
		return Thread{}, fmt.Errorf("invalid user id: %w", err)
	}
	pgConfigID, err := dbpkg.ParseUUID(input.AssistantConfigID)
	if err != nil {
		return Thread{}, fmt.Errorf("invalid assistant config id: %w", err)
	}
	metaBytes, err := json.Marshal(nonNilMap(input.Metadata))
	if err != nil {
		return Thread{}, fmt.Errorf("marshal thread metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO threads (user_id, assistant_config_id, metadata) VALUES ($1, $2, $3) RETURNING `+threadColumns,
		pgUserID, pgConfigID, metaBytes)
	return scanThread(row)
}

func (s *DBService) UpdateThreadMetadata(ctx context.Context, id string, metadata map[string]any) (Thread, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Thread{}, fmt.Errorf("invalid thread id: %w", err)
	}
	metaBytes, err := json.Marshal(nonNilMap(metadata))
	if err != nil {
		return Thread{}, fmt.Errorf("marshal thread metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE threads SET metadata = $2, updated_at = now() WHERE id = $1 RETURNING `+threadColumns,
		pgID, metaBytes)
	thread, err := scanThread(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, ErrThreadNotFound
	}
	return thread, err
}

func (s *DBService) TouchThread(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid thread id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE threads SET updated_at = now() WHERE id = $1`, pgID)
	return err
}

// --- messages ---

const messageColumns = `id, thread_id, user_id, role, content, completed, metadata, created_at`

func (s *DBService) CreateMessage(ctx context.Context, input CreateMessageInput) (Message, error) {
	pgThreadID, err := dbpkg.ParseUUID(input.ThreadID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid thread id: %w", err)
	}
	pgUserID, err := dbpkg.ParseOptionalUUID(input.UserID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid user id: %w", err)
	}
	metaBytes, err := json.Marshal(nonNilMap(input.Metadata))
	if err != nil {
		return Message{}, fmt.Errorf("marshal message metadata: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (thread_id, user_id, role, content, completed, metadata) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		pgThreadID, pgUserID, input.Role, input.Content, input.Completed, metaBytes)
	return scanMessage(row)
}

func (s *DBService) ListMessagesByThread(ctx context.Context, threadID string) ([]Message, error) {
	pgThreadID, err := dbpkg.ParseUUID(threadID)
	if err != nil {
		return nil, fmt.Errorf("invalid thread id: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = $1 ORDER BY created_at ASC`, pgThreadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// --- files ---

func (s *DBService) GetFileByName(ctx context.Context, userID, filename string) (File, error) {
	pgUserID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return File{}, fmt.Errorf("invalid user id: %w", err)
	}
	var (
		id             pgtype.UUID
		uid            pgtype.UUID
		name           string
		externalFileID pgtype.Text
		createdAt      pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, user_id, filename, external_file_id, created_at FROM files WHERE user_id = $1 AND filename = $2`,
		pgUserID, filename).Scan(&id, &uid, &name, &externalFileID, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, ErrFileNotFound
	}
	if err != nil {
		return File{}, err
	}
	return File{
		ID:             dbpkg.UUIDString(id),
		UserID:         dbpkg.UUIDString(uid),
		Filename:       name,
		ExternalFileID: dbpkg.TextOrEmpty(externalFileID),
		CreatedAt:      dbpkg.ToTime(createdAt),
	}, nil
}

// --- row scanning ---

func scanConfig(row pgx.Row) (AssistantConfig, error) {
	var (
		id          pgtype.UUID
		name        string
		instr       string
		assistantID pgtype.Text
		storeID     pgtype.Text
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	if err := row.Scan(&id, &name, &instr, &assistantID, &storeID, &createdAt, &updatedAt); err != nil {
		return AssistantConfig{}, err
	}
	return AssistantConfig{
		ID:                  dbpkg.UUIDString(id),
		Name:                name,
		Instructions:        instr,
		ExternalAssistantID: dbpkg.TextOrEmpty(assistantID),
		ExternalStoreID:     dbpkg.TextOrEmpty(storeID),
		CreatedAt:           dbpkg.ToTime(createdAt),
		UpdatedAt:           dbpkg.ToTime(updatedAt),
	}, nil
}

func scanThread(row pgx.Row) (Thread, error) {
	var (
		id        pgtype.UUID
		userID    pgtype.UUID
		configID  pgtype.UUID
		metaBytes []byte
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &userID, &configID, &metaBytes, &createdAt, &updatedAt); err != nil {
		return Thread{}, err
	}
	metadata := map[string]any{}
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			return Thread{}, fmt.Errorf("decode thread metadata: %w", err)
		}
	}
	return Thread{
		ID:                dbpkg.UUIDString(id),
		UserID:            dbpkg.UUIDString(userID),
		AssistantConfigID: dbpkg.UUIDString(configID),
		Metadata:          metadata,
		CreatedAt:         dbpkg.ToTime(createdAt),
		UpdatedAt:         dbpkg.ToTime(updatedAt),
	}, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id        pgtype.UUID
		threadID  pgtype.UUID
		userID    pgtype.UUID
		role      string
		content   string
		completed bool
		metaBytes []byte
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &threadID, &userID, &role, &content, &completed, &metaBytes, &createdAt); err != nil {
		return Message{}, err
	}
	metadata := map[string]any{}
	if len(metaBytes) > 0 {
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			return Message{}, fmt.Errorf("decode message metadata: %w", err)
		}
	}
	return Message{
		ID:        dbpkg.UUIDString(id),
		ThreadID:  dbpkg.UUIDString(threadID),
		UserID:    dbpkg.UUIDString(userID),
		Role:      role,
		Content:   content,
		Completed: completed,
		Metadata:  metadata,
		CreatedAt: dbpkg.ToTime(createdAt),
	}, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Package sqlite implements taskgate.Store using pure-Go SQLite. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	taskgate "github.com/nevindra/taskgate"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// CurrentSchemaVersion is recorded in the schema_version table on every
// fresh Init and compared against the stored value on every subsequent
// one (spec.md §6, "Persisted state"). Bump it whenever a DDL change in
// Init would not apply cleanly to an existing file.
const CurrentSchemaVersion = 1

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// logs when it opens, Init's start and duration, schema-version rebuilds,
// and user creation; other operations are not logged. If not set, no logs
// are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithPreserveOldDB controls what happens to an existing database file
// whose schema_version doesn't match CurrentSchemaVersion: when true the
// file is moved aside to "<path>-<timestamp>.db" before a fresh one is
// created; when false (the default) it is deleted outright.
func WithPreserveOldDB(preserve bool) StoreOption {
	return func(s *Store) { s.preserveOldDB = preserve }
}

// Store implements taskgate.Store backed by a local SQLite file.
type Store struct {
	db            *sql.DB
	dbPath        string
	logger        *slog.Logger
	preserveOldDB bool
}

var _ taskgate.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection pool with SetMaxOpenConns(1) so that all
// goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: dbPath, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables. It first checks the schema_version
// table recorded by a prior Init: a version mismatch rebuilds the
// database from scratch, renaming the old file aside or deleting it per
// WithPreserveOldDB (spec.md §6).
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	if err := s.reconcileSchemaVersion(ctx); err != nil {
		return fmt.Errorf("reconcile schema version: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			revoked_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			source TEXT NOT NULL,
			url TEXT,
			byte_size INTEGER NOT NULL,
			page_count INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			title TEXT,
			status TEXT NOT NULL,
			output TEXT,
			steps_generated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS task_steps (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			step_number INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			started_at INTEGER,
			completed_at INTEGER,
			response_content TEXT,
			normal_json TEXT,
			reevaluate_json TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS cost_increments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			usd REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_files_user ON files(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_threads_user ON chat_threads(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_steps_task ON task_steps(task_id, step_number)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_increments_task ON cost_increments(task_id)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// reconcileSchemaVersion reads the single row in schema_version (creating
// it and recording CurrentSchemaVersion if the table is new) and rebuilds
// the whole database when an existing row doesn't match.
func (s *Store) reconcileSchemaVersion(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		_, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version == CurrentSchemaVersion:
		return nil
	default:
		s.logger.Warn("sqlite: schema version mismatch, rebuilding database",
			"found_version", version, "current_version", CurrentSchemaVersion, "preserve_old_db", s.preserveOldDB)
		return s.rebuildForVersionMismatch(ctx)
	}
}

// rebuildForVersionMismatch closes the stale connection, moves the old
// file aside (or deletes it) per preserveOldDB, then reopens a fresh
// database file and records CurrentSchemaVersion in it. For in-memory
// databases the rename/delete step is skipped, since there is no file to
// move.
func (s *Store) rebuildForVersionMismatch(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close stale db: %w", err)
	}

	if s.dbPath != "" && s.dbPath != ":memory:" && !strings.Contains(s.dbPath, "mode=memory") {
		if s.preserveOldDB {
			ext := filepath.Ext(s.dbPath)
			dest := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(s.dbPath, ext), time.Now().Format("20060102150405"), ext)
			if err := os.Rename(s.dbPath, dest); err != nil {
				return fmt.Errorf("rename old db aside: %w", err)
			}
			s.logger.Warn("sqlite: old database preserved", "path", dest)
		} else if err := os.Remove(s.dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old db: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("reopen db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user taskgate.User) error {
	s.logger.Debug("sqlite: create user", "id", user.ID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at) VALUES (?, ?)`,
		user.ID, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (taskgate.User, error) {
	var u taskgate.User
	err := s.db.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return taskgate.User{}, taskgate.NewError(taskgate.KindNotFound, "user %s not found", id)
	}
	if err != nil {
		return taskgate.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// --- API keys ---

func (s *Store) CreateAPIKey(ctx context.Context, key taskgate.APIKey) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, name, hash, created_at, revoked_at) VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.Name, key.Hash, key.CreatedAt, key.RevokedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (taskgate.APIKey, error) {
	var k taskgate.APIKey
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, hash, created_at, revoked_at FROM api_keys WHERE hash = ?`, hash).
		Scan(&k.ID, &k.UserID, &k.Name, &k.Hash, &k.CreatedAt, &k.RevokedAt)
	if err == sql.ErrNoRows {
		return taskgate.APIKey{}, taskgate.NewError(taskgate.KindNotFound, "api key not found")
	}
	if err != nil {
		return taskgate.APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]taskgate.APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, hash, created_at, revoked_at FROM api_keys WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []taskgate.APIKey
	for rows.Next() {
		var k taskgate.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.Hash, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string, revokedAt int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ?`, revokedAt, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return taskgate.NewError(taskgate.KindNotFound, "api key %s not found", id)
	}
	return nil
}

// --- Files ---

func (s *Store) CreateFile(ctx context.Context, file taskgate.UploadedFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.UserID, file.Kind, file.MimeType, file.Source, file.URL, file.ByteSize, file.PageCount, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (taskgate.UploadedFile, error) {
	var f taskgate.UploadedFile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE id = ?`, id).
		Scan(&f.ID, &f.UserID, &f.Kind, &f.MimeType, &f.Source, &f.URL, &f.ByteSize, &f.PageCount, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return taskgate.UploadedFile{}, taskgate.NewError(taskgate.KindNotFound, "file %s not found", id)
	}
	if err != nil {
		return taskgate.UploadedFile{}, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *Store) GetFiles(ctx context.Context, ids []string) ([]taskgate.UploadedFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery(
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE id IN (%s)`,
		ids)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get files: %w", err)
	}
	defer rows.Close()

	var files []taskgate.UploadedFile
	for rows.Next() {
		var f taskgate.UploadedFile
		if err := rows.Scan(&f.ID, &f.UserID, &f.Kind, &f.MimeType, &f.Source, &f.URL, &f.ByteSize, &f.PageCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *Store) ListFiles(ctx context.Context, userID string) ([]taskgate.UploadedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE user_id = ? ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []taskgate.UploadedFile
	for rows.Next() {
		var f taskgate.UploadedFile
		if err := rows.Scan(&f.ID, &f.UserID, &f.Kind, &f.MimeType, &f.Source, &f.URL, &f.ByteSize, &f.PageCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Chat threads ---

func (s *Store) CreateThread(ctx context.Context, thread taskgate.ChatThread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_threads (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		thread.ID, thread.UserID, thread.Title, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, id string) (taskgate.ChatThread, error) {
	var t taskgate.ChatThread
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_threads WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return taskgate.ChatThread{}, taskgate.NewError(taskgate.KindNotFound, "thread %s not found", id)
	}
	if err != nil {
		return taskgate.ChatThread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (s *Store) ListThreads(ctx context.Context, userID string) ([]taskgate.ChatThread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_threads WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []taskgate.ChatThread
	for rows.Next() {
		var t taskgate.ChatThread
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *Store) StoreMessage(ctx context.Context, msg taskgate.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, thread_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chat_threads SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func (s *Store) GetMessages(ctx context.Context, threadID string, limit int) ([]taskgate.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, created_at FROM chat_messages
		 WHERE thread_id = ? ORDER BY created_at ASC LIMIT ?`,
		threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []taskgate.ChatMessage
	for rows.Next() {
		var m taskgate.ChatMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Tasks ---

func (s *Store) CreateTask(ctx context.Context, prompt, userID string) (taskgate.Task, error) {
	task := taskgate.Task{
		ID:        taskgate.NewID(),
		UserID:    userID,
		Prompt:    prompt,
		Status:    taskgate.TaskDecomposing,
		CreatedAt: taskgate.NowUnix(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Prompt, task.Title, task.Status, task.Output, task.StepsGenerated, task.CreatedAt, task.CompletedAt)
	if err != nil {
		return taskgate.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id, userID string) (taskgate.Task, error) {
	var t taskgate.Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at
		 FROM tasks WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&t.ID, &t.UserID, &t.Prompt, &t.Title, &t.Status, &t.Output, &t.StepsGenerated, &t.CreatedAt, &t.CompletedAt)
	if err == sql.ErrNoRows {
		return taskgate.Task{}, taskgate.NewError(taskgate.KindNotFound, "task %s not found", id)
	}
	if err != nil {
		return taskgate.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]taskgate.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at
		 FROM tasks WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []taskgate.Task
	for rows.Next() {
		var t taskgate.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Prompt, &t.Title, &t.Status, &t.Output, &t.StepsGenerated, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateAfterDecomposition(ctx context.Context, taskID, title string, steps []taskgate.TaskStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decomposition tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, status = ?, steps_generated = 1 WHERE id = ?`,
		title, taskgate.TaskInProgress, taskID); err != nil {
		return fmt.Errorf("update task after decomposition: %w", err)
	}
	for _, step := range steps {
		if err := insertStep(ctx, tx, step); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UpdateTaskFinal(ctx context.Context, taskID string, status taskgate.TaskStatus, completedAt int64, output string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, output = ? WHERE id = ?`,
		status, completedAt, output, taskID)
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	return nil
}

// --- Steps ---

func insertStep(ctx context.Context, tx *sql.Tx, step taskgate.TaskStep) error {
	var normalJSON, reevalJSON *string
	if step.Normal != nil {
		data, err := json.Marshal(step.Normal)
		if err != nil {
			return fmt.Errorf("marshal normal step: %w", err)
		}
		v := string(data)
		normalJSON = &v
	}
	if step.Reevaluate != nil {
		data, err := json.Marshal(step.Reevaluate)
		if err != nil {
			return fmt.Errorf("marshal reevaluate step: %w", err)
		}
		v := string(data)
		reevalJSON = &v
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO task_steps (id, task_id, step_number, prompt, status, type, started_at, completed_at, response_content, normal_json, reevaluate_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.TaskID, step.StepNumber, step.Prompt, step.Status, step.Type, step.StartedAt, step.CompletedAt, step.ResponseContent, normalJSON, reevalJSON)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func scanStep(scan func(dest ...any) error) (taskgate.TaskStep, error) {
	var step taskgate.TaskStep
	var normalJSON, reevalJSON sql.NullString
	if err := scan(&step.ID, &step.TaskID, &step.StepNumber, &step.Prompt, &step.Status, &step.Type,
		&step.StartedAt, &step.CompletedAt, &step.ResponseContent, &normalJSON, &reevalJSON); err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("scan step: %w", err)
	}
	if normalJSON.Valid {
		var n taskgate.NormalStepDetails
		if err := json.Unmarshal([]byte(normalJSON.String), &n); err != nil {
			return taskgate.TaskStep{}, fmt.Errorf("unmarshal normal step: %w", err)
		}
		step.Normal = &n
	}
	if reevalJSON.Valid {
		var r taskgate.ReevaluateStepDetails
		if err := json.Unmarshal([]byte(reevalJSON.String), &r); err != nil {
			return taskgate.TaskStep{}, fmt.Errorf("unmarshal reevaluate step: %w", err)
		}
		step.Reevaluate = &r
	}
	return step, nil
}

const stepColumns = `id, task_id, step_number, prompt, status, type, started_at, completed_at, response_content, normal_json, reevaluate_json`

func (s *Store) GetStep(ctx context.Context, stepID string) (taskgate.TaskStep, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM task_steps WHERE id = ?`, stepID)
	step, err := scanStep(row.Scan)
	if err == sql.ErrNoRows {
		return taskgate.TaskStep{}, taskgate.NewError(taskgate.KindNotFound, "step %s not found", stepID)
	}
	return step, err
}

func (s *Store) GetSteps(ctx context.Context, taskID, userID string, excludeAbandoned bool) ([]taskgate.TaskStep, error) {
	query := fmt.Sprintf(`SELECT %s FROM task_steps ts JOIN tasks t ON t.id = ts.task_id WHERE ts.task_id = ? AND t.user_id = ?`,
		prefixColumns("ts", stepColumns))
	args := []any{taskID, userID}
	if excludeAbandoned {
		query += ` AND ts.status != ?`
		args = append(args, taskgate.StepAbandoned)
	}
	query += ` ORDER BY ts.step_number ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	defer rows.Close()

	var steps []taskgate.TaskStep
	for rows.Next() {
		step, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) UpdateStep(ctx context.Context, step taskgate.TaskStep) error {
	var normalJSON, reevalJSON *string
	if step.Normal != nil {
		data, err := json.Marshal(step.Normal)
		if err != nil {
			return fmt.Errorf("marshal normal step: %w", err)
		}
		v := string(data)
		normalJSON = &v
	}
	if step.Reevaluate != nil {
		data, err := json.Marshal(step.Reevaluate)
		if err != nil {
			return fmt.Errorf("marshal reevaluate step: %w", err)
		}
		v := string(data)
		reevalJSON = &v
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_steps SET status = ?, started_at = ?, completed_at = ?, response_content = ?, normal_json = ?, reevaluate_json = ?
		 WHERE id = ?`,
		step.Status, step.StartedAt, step.CompletedAt, step.ResponseContent, normalJSON, reevalJSON, step.ID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return nil
}

func (s *Store) MarkStepsAbandonedAfter(ctx context.Context, taskID string, stepNumber int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_steps SET status = ? WHERE task_id = ? AND step_number > ? AND status NOT IN (?, ?, ?)`,
		taskgate.StepAbandoned, taskID, stepNumber, taskgate.StepCompleted, taskgate.StepFailed, taskgate.StepAbandoned)
	if err != nil {
		return fmt.Errorf("abandon steps: %w", err)
	}
	return nil
}

func (s *Store) InsertNewStepsAfterReevaluation(ctx context.Context, taskID string, afterStepNumber int, defs []taskgate.StepDefinition) ([]taskgate.TaskStep, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reevaluation insert tx: %w", err)
	}
	defer tx.Rollback()

	steps := make([]taskgate.TaskStep, 0, len(defs))
	for i, def := range defs {
		step := taskgate.TaskStep{
			ID:         taskgate.NewID(),
			TaskID:     taskID,
			StepNumber: afterStepNumber + 1 + i,
			Prompt:     def.Prompt,
			Status:     taskgate.StepPending,
			Type:       def.StepType,
		}
		if def.StepType == taskgate.StepTypeReevaluate {
			step.Reevaluate = &taskgate.ReevaluateStepDetails{IsPlanned: true}
		} else {
			step.Normal = &taskgate.NormalStepDetails{
				Complexity:           def.Complexity,
				RequiredCapabilities: def.RequiredCapabilities,
			}
		}
		if err := insertStep(ctx, tx, step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reevaluation insert: %w", err)
	}
	return steps, nil
}

func (s *Store) CreateSynthesizedReevaluateStep(ctx context.Context, taskID, prompt string, stepNumber int) (taskgate.TaskStep, error) {
	step := taskgate.TaskStep{
		ID:         taskgate.NewID(),
		TaskID:     taskID,
		StepNumber: stepNumber,
		Prompt:     prompt,
		Status:     taskgate.StepPending,
		Type:       taskgate.StepTypeReevaluate,
		Reevaluate: &taskgate.ReevaluateStepDetails{IsPlanned: false},
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("begin synthesize tx: %w", err)
	}
	defer tx.Rollback()
	if err := insertStep(ctx, tx, step); err != nil {
		return taskgate.TaskStep{}, err
	}
	if err := tx.Commit(); err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("commit synthesize: %w", err)
	}
	return step, nil
}

// --- Cost ledger ---

func (s *Store) AddCostIncrement(ctx context.Context, taskID string, usd float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_increments (id, task_id, usd, created_at) VALUES (?, ?, ?, ?)`,
		taskgate.NewID(), taskID, usd, taskgate.NowUnix())
	if err != nil {
		return fmt.Errorf("add cost increment: %w", err)
	}
	return nil
}

func (s *Store) TotalCost(ctx context.Context, taskID string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(usd) FROM cost_increments WHERE task_id = ?`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return total.Float64, nil
}

// --- helpers ---

func inClauseQuery(template string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	joined := ""
	for i, p := range placeholders {
		if i > 0 {
			joined += ", "
		}
		joined += p
	}
	return fmt.Sprintf(template, joined), args
}

func prefixColumns(alias, columns string) string {
	out := ""
	start := 0
	for i := 0; i <= len(columns); i++ {
		if i == len(columns) || columns[i] == ',' {
			col := columns[start:i]
			for len(col) > 0 && col[0] == ' ' {
				col = col[1:]
			}
			if out != "" {
				out += ", "
			}
			out += alias + "." + col
			start = i + 1
		}
	}
	return out
}

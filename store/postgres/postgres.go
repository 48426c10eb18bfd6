// Package postgres implements taskgate.Store using PostgreSQL via pgx/v5.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	taskgate "github.com/nevindra/taskgate"
)

// Store implements taskgate.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ taskgate.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes, matching the sqlite
// store's schema column-for-column.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			revoked_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			source TEXT NOT NULL,
			url TEXT,
			byte_size BIGINT NOT NULL,
			page_count INTEGER,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			title TEXT,
			status TEXT NOT NULL,
			output TEXT,
			steps_generated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at BIGINT NOT NULL,
			completed_at BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS task_steps (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			step_number INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			started_at BIGINT,
			completed_at BIGINT,
			response_content TEXT,
			normal_json JSONB,
			reevaluate_json JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS cost_increments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			usd DOUBLE PRECISION NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_files_user ON files(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_threads_user ON chat_threads(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_thread ON chat_messages(thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_steps_task ON task_steps(task_id, step_number)`,
		`CREATE INDEX IF NOT EXISTS idx_cost_increments_task ON cost_increments(task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notFound(err error, format string, args ...any) error {
	if err == pgx.ErrNoRows {
		return taskgate.NewError(taskgate.KindNotFound, format, args...)
	}
	return err
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, user taskgate.User) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO users (id, created_at) VALUES ($1, $2)`, user.ID, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (taskgate.User, error) {
	var u taskgate.User
	err := s.pool.QueryRow(ctx, `SELECT id, created_at FROM users WHERE id = $1`, id).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return taskgate.User{}, notFound(err, "user %s not found", id)
	}
	return u, nil
}

// --- API keys ---

func (s *Store) CreateAPIKey(ctx context.Context, key taskgate.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, hash, created_at, revoked_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.Name, key.Hash, key.CreatedAt, key.RevokedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (taskgate.APIKey, error) {
	var k taskgate.APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, hash, created_at, revoked_at FROM api_keys WHERE hash = $1`, hash).
		Scan(&k.ID, &k.UserID, &k.Name, &k.Hash, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		return taskgate.APIKey{}, notFound(err, "api key not found")
	}
	return k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]taskgate.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, hash, created_at, revoked_at FROM api_keys WHERE user_id = $1 ORDER BY created_at`, userID)
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
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = $1 WHERE id = $2`, revokedAt, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskgate.NewError(taskgate.KindNotFound, "api key %s not found", id)
	}
	return nil
}

// --- Files ---

func (s *Store) CreateFile(ctx context.Context, file taskgate.UploadedFile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		file.ID, file.UserID, file.Kind, file.MimeType, file.Source, file.URL, file.ByteSize, file.PageCount, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, id string) (taskgate.UploadedFile, error) {
	var f taskgate.UploadedFile
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE id = $1`, id).
		Scan(&f.ID, &f.UserID, &f.Kind, &f.MimeType, &f.Source, &f.URL, &f.ByteSize, &f.PageCount, &f.CreatedAt)
	if err != nil {
		return taskgate.UploadedFile{}, notFound(err, "file %s not found", id)
	}
	return f, nil
}

func (s *Store) GetFiles(ctx context.Context, ids []string) ([]taskgate.UploadedFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE id = ANY($1)`,
		ids)
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
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, mime_type, source, url, byte_size, page_count, created_at FROM files WHERE user_id = $1 ORDER BY created_at DESC`,
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_threads (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		thread.ID, thread.UserID, thread.Title, thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, id string) (taskgate.ChatThread, error) {
	var t taskgate.ChatThread
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_threads WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return taskgate.ChatThread{}, notFound(err, "thread %s not found", id)
	}
	return t, nil
}

func (s *Store) ListThreads(ctx context.Context, userID string) ([]taskgate.ChatThread, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_threads WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store message tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_messages (id, thread_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chat_threads SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ThreadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) GetMessages(ctx context.Context, threadID string, limit int) ([]taskgate.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, thread_id, role, content, created_at FROM chat_messages
		 WHERE thread_id = $1 ORDER BY created_at ASC LIMIT $2`, threadID, limit)
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.UserID, task.Prompt, task.Title, task.Status, task.Output, task.StepsGenerated, task.CreatedAt, task.CompletedAt)
	if err != nil {
		return taskgate.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id, userID string) (taskgate.Task, error) {
	var t taskgate.Task
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at
		 FROM tasks WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&t.ID, &t.UserID, &t.Prompt, &t.Title, &t.Status, &t.Output, &t.StepsGenerated, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return taskgate.Task{}, notFound(err, "task %s not found", id)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]taskgate.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, prompt, title, status, output, steps_generated, created_at, completed_at
		 FROM tasks WHERE user_id = $1 ORDER BY created_at DESC`, userID)
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin decomposition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET title = $1, status = $2, steps_generated = TRUE WHERE id = $3`,
		title, taskgate.TaskInProgress, taskID); err != nil {
		return fmt.Errorf("update task after decomposition: %w", err)
	}
	for _, step := range steps {
		if err := insertStep(ctx, tx, step); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateTaskFinal(ctx context.Context, taskID string, status taskgate.TaskStatus, completedAt int64, output string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, completed_at = $2, output = $3 WHERE id = $4`,
		status, completedAt, output, taskID)
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	return nil
}

// --- Steps ---

func insertStep(ctx context.Context, tx pgx.Tx, step taskgate.TaskStep) error {
	var normalJSON, reevalJSON []byte
	var err error
	if step.Normal != nil {
		normalJSON, err = json.Marshal(step.Normal)
		if err != nil {
			return fmt.Errorf("marshal normal step: %w", err)
		}
	}
	if step.Reevaluate != nil {
		reevalJSON, err = json.Marshal(step.Reevaluate)
		if err != nil {
			return fmt.Errorf("marshal reevaluate step: %w", err)
		}
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO task_steps (id, task_id, step_number, prompt, status, type, started_at, completed_at, response_content, normal_json, reevaluate_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		step.ID, step.TaskID, step.StepNumber, step.Prompt, step.Status, step.Type, step.StartedAt, step.CompletedAt, step.ResponseContent, jsonbOrNil(normalJSON), jsonbOrNil(reevalJSON))
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func jsonbOrNil(data []byte) any {
	if data == nil {
		return nil
	}
	return data
}

const stepColumns = `id, task_id, step_number, prompt, status, type, started_at, completed_at, response_content, normal_json, reevaluate_json`

func scanStep(scan func(dest ...any) error) (taskgate.TaskStep, error) {
	var step taskgate.TaskStep
	var normalJSON, reevalJSON []byte
	if err := scan(&step.ID, &step.TaskID, &step.StepNumber, &step.Prompt, &step.Status, &step.Type,
		&step.StartedAt, &step.CompletedAt, &step.ResponseContent, &normalJSON, &reevalJSON); err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("scan step: %w", err)
	}
	if normalJSON != nil {
		var n taskgate.NormalStepDetails
		if err := json.Unmarshal(normalJSON, &n); err != nil {
			return taskgate.TaskStep{}, fmt.Errorf("unmarshal normal step: %w", err)
		}
		step.Normal = &n
	}
	if reevalJSON != nil {
		var r taskgate.ReevaluateStepDetails
		if err := json.Unmarshal(reevalJSON, &r); err != nil {
			return taskgate.TaskStep{}, fmt.Errorf("unmarshal reevaluate step: %w", err)
		}
		step.Reevaluate = &r
	}
	return step, nil
}

func (s *Store) GetStep(ctx context.Context, stepID string) (taskgate.TaskStep, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stepColumns+` FROM task_steps WHERE id = $1`, stepID)
	step, err := scanStep(row.Scan)
	if err != nil {
		return taskgate.TaskStep{}, notFound(err, "step %s not found", stepID)
	}
	return step, nil
}

func (s *Store) GetSteps(ctx context.Context, taskID, userID string, excludeAbandoned bool) ([]taskgate.TaskStep, error) {
	cols := prefixColumns("ts", stepColumns)
	query := fmt.Sprintf(`SELECT %s FROM task_steps ts JOIN tasks t ON t.id = ts.task_id WHERE ts.task_id = $1 AND t.user_id = $2`, cols)
	args := []any{taskID, userID}
	if excludeAbandoned {
		query += ` AND ts.status != $3`
		args = append(args, taskgate.StepAbandoned)
	}
	query += ` ORDER BY ts.step_number ASC`

	rows, err := s.pool.Query(ctx, query, args...)
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
	var normalJSON, reevalJSON []byte
	var err error
	if step.Normal != nil {
		normalJSON, err = json.Marshal(step.Normal)
		if err != nil {
			return fmt.Errorf("marshal normal step: %w", err)
		}
	}
	if step.Reevaluate != nil {
		reevalJSON, err = json.Marshal(step.Reevaluate)
		if err != nil {
			return fmt.Errorf("marshal reevaluate step: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE task_steps SET status = $1, started_at = $2, completed_at = $3, response_content = $4, normal_json = $5, reevaluate_json = $6
		 WHERE id = $7`,
		step.Status, step.StartedAt, step.CompletedAt, step.ResponseContent, jsonbOrNil(normalJSON), jsonbOrNil(reevalJSON), step.ID)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	return nil
}

func (s *Store) MarkStepsAbandonedAfter(ctx context.Context, taskID string, stepNumber int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE task_steps SET status = $1 WHERE task_id = $2 AND step_number > $3 AND status NOT IN ($4, $5, $6)`,
		taskgate.StepAbandoned, taskID, stepNumber, taskgate.StepCompleted, taskgate.StepFailed, taskgate.StepAbandoned)
	if err != nil {
		return fmt.Errorf("abandon steps: %w", err)
	}
	return nil
}

func (s *Store) InsertNewStepsAfterReevaluation(ctx context.Context, taskID string, afterStepNumber int, defs []taskgate.StepDefinition) ([]taskgate.TaskStep, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reevaluation insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

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
	if err := tx.Commit(ctx); err != nil {
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("begin synthesize tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := insertStep(ctx, tx, step); err != nil {
		return taskgate.TaskStep{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return taskgate.TaskStep{}, fmt.Errorf("commit synthesize: %w", err)
	}
	return step, nil
}

// --- Cost ledger ---

func (s *Store) AddCostIncrement(ctx context.Context, taskID string, usd float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_increments (id, task_id, usd, created_at) VALUES ($1, $2, $3, $4)`,
		taskgate.NewID(), taskID, usd, taskgate.NowUnix())
	if err != nil {
		return fmt.Errorf("add cost increment: %w", err)
	}
	return nil
}

func (s *Store) TotalCost(ctx context.Context, taskID string) (float64, error) {
	var total *float64
	err := s.pool.QueryRow(ctx, `SELECT SUM(usd) FROM cost_increments WHERE task_id = $1`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(out, ", ")
}

// Package store provides the SQLite persistence layer for NanoClaw: chat
// metadata, message history, registered groups, agent session tokens and
// scheduled tasks.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/nanoclaw/pkg/nanoclaw/channels"
)

// RegisteredGroup is a conversation that has been explicitly enabled for
// agent processing.
type RegisteredGroup struct {
	JID             string    `json:"jid"`
	Name            string    `json:"name"`
	Folder          string    `json:"folder"`
	Trigger         string    `json:"trigger"`
	RequiresTrigger bool      `json:"requiresTrigger"`
	AddedAt         time.Time `json:"added_at"`
}

// Chat is the metadata row kept for every conversation ever seen, registered
// or not.
type Chat struct {
	JID           string
	Name          string
	LastMessageAt time.Time
}

// Task is a cron-scheduled prompt bound to a group folder.
type Task struct {
	ID          string    `json:"id"`
	GroupFolder string    `json:"groupFolder"`
	Schedule    string    `json:"schedule"`
	Prompt      string    `json:"prompt"`
	Status      string    `json:"status"`
	NextRun     time.Time `json:"nextRun"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Task statuses.
const (
	TaskStatusActive = "active"
	TaskStatusPaused = "paused"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps live in
// TEXT columns and are compared lexicographically; RFC3339Nano trims trailing
// zeros, which breaks that ordering across mixed precisions.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// StoredMessage is one history row: the normalized message plus its insertion
// sequence. The sequence is the agent cursor key. Chat transports stamp
// messages with second granularity, so timestamps collide; sequences never
// do.
type StoredMessage struct {
	Seq int64
	channels.Message
}

// Store wraps the SQLite database connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the NanoClaw database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertChat records chat metadata. Called for every inbound message,
// regardless of registration.
func (s *Store) UpsertChat(jid, name string, lastMessageAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO chats (jid, name, last_message_at) VALUES (?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
			last_message_at = excluded.last_message_at`,
		jid, name, lastMessageAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert chat %q: %w", jid, err)
	}
	return nil
}

// GetAllChats returns every chat ever seen, most recent first.
func (s *Store) GetAllChats() ([]Chat, error) {
	rows, err := s.db.Query(`SELECT jid, name, last_message_at FROM chats ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var ts string
		if err := rows.Scan(&c.JID, &c.Name, &ts); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.LastMessageAt, _ = time.Parse(time.RFC3339Nano, ts)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// StoreMessage persists a normalized message into the history. A message
// re-delivered by the transport keeps its original row and sequence, so it
// can never reappear past an advanced cursor.
func (s *Store) StoreMessage(m *channels.Message) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages (id, chat_jid, sender, sender_name, content, timestamp, is_from_me)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatJID, m.Sender, m.SenderName, m.Content,
		m.Timestamp.UTC().Format(timeLayout), boolToInt(m.IsFromMe))
	if err != nil {
		return fmt.Errorf("store message %q: %w", m.ID, err)
	}
	return nil
}

// GetMessagesAfter returns the messages for a chat with a sequence strictly
// greater than after, oldest first. after = 0 returns the full history.
func (s *Store) GetMessagesAfter(chatJID string, after int64) ([]StoredMessage, error) {
	rows, err := s.db.Query(`
		SELECT seq, id, chat_jid, sender, sender_name, content, timestamp, is_from_me
		FROM messages WHERE chat_jid = ? AND seq > ?
		ORDER BY seq ASC`,
		chatJID, after)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var ts string
		var fromMe int
		if err := rows.Scan(&m.Seq, &m.ID, &m.ChatJID, &m.Sender, &m.SenderName, &m.Content, &ts, &fromMe); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		m.IsFromMe = fromMe != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RegisterGroup enables a conversation for agent processing. Re-registering
// an existing JID updates the row in place and is not an error.
func (s *Store) RegisterGroup(g RegisteredGroup) error {
	if g.AddedAt.IsZero() {
		g.AddedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO registered_groups (jid, name, folder, trigger_word, requires_trigger, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			folder = excluded.folder,
			trigger_word = excluded.trigger_word,
			requires_trigger = excluded.requires_trigger`,
		g.JID, g.Name, g.Folder, g.Trigger, boolToInt(g.RequiresTrigger),
		g.AddedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("register group %q: %w", g.JID, err)
	}
	return nil
}

// UnregisterGroup removes a conversation from agent processing. Chat metadata
// and history are kept.
func (s *Store) UnregisterGroup(jid string) error {
	_, err := s.db.Exec(`DELETE FROM registered_groups WHERE jid = ?`, jid)
	if err != nil {
		return fmt.Errorf("unregister group %q: %w", jid, err)
	}
	return nil
}

// GetRegisteredGroup returns the registration for a JID, or nil when the JID
// is not registered.
func (s *Store) GetRegisteredGroup(jid string) (*RegisteredGroup, error) {
	row := s.db.QueryRow(`
		SELECT jid, name, folder, trigger_word, requires_trigger, added_at
		FROM registered_groups WHERE jid = ?`, jid)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query registered group %q: %w", jid, err)
	}
	return g, nil
}

// GetAllRegisteredGroups returns every registration, oldest first.
func (s *Store) GetAllRegisteredGroups() ([]RegisteredGroup, error) {
	rows, err := s.db.Query(`
		SELECT jid, name, folder, trigger_word, requires_trigger, added_at
		FROM registered_groups ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query registered groups: %w", err)
	}
	defer rows.Close()

	var groups []RegisteredGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registered group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(r rowScanner) (*RegisteredGroup, error) {
	var g RegisteredGroup
	var requires int
	var ts string
	if err := r.Scan(&g.JID, &g.Name, &g.Folder, &g.Trigger, &requires, &ts); err != nil {
		return nil, err
	}
	g.RequiresTrigger = requires != 0
	g.AddedAt, _ = time.Parse(time.RFC3339Nano, ts)
	return &g, nil
}

// SetSession persists the session continuity token for a folder, replacing
// any previous value.
func (s *Store) SetSession(folder, token string) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (folder, token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(folder) DO UPDATE SET
			token = excluded.token,
			updated_at = excluded.updated_at`,
		folder, token, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("set session for %q: %w", folder, err)
	}
	return nil
}

// GetSession returns the session token for a folder, or "" when none exists.
func (s *Store) GetSession(folder string) (string, error) {
	var token string
	err := s.db.QueryRow(`SELECT token FROM sessions WHERE folder = ?`, folder).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session for %q: %w", folder, err)
	}
	return token, nil
}

// GetAllSessions returns the folder → token map.
func (s *Store) GetAllSessions() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT folder, token FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]string)
	for rows.Next() {
		var folder, token string
		if err := rows.Scan(&folder, &token); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions[folder] = token
	}
	return sessions, rows.Err()
}

// GetCursor returns the per-group agent cursor: the sequence of the last
// message already shown to the agent, 0 when no turn ever ran.
func (s *Store) GetCursor(folder string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(`SELECT last_seq FROM cursors WHERE folder = ?`, folder).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query cursor for %q: %w", folder, err)
	}
	return seq, nil
}

// SetCursor advances the per-group agent cursor.
func (s *Store) SetCursor(folder string, seq int64) error {
	_, err := s.db.Exec(`
		INSERT INTO cursors (folder, last_seq) VALUES (?, ?)
		ON CONFLICT(folder) DO UPDATE SET last_seq = excluded.last_seq`,
		folder, seq)
	if err != nil {
		return fmt.Errorf("set cursor for %q: %w", folder, err)
	}
	return nil
}

// AddTask stores a scheduled task.
func (s *Store) AddTask(t Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = TaskStatusActive
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks (id, group_folder, schedule, prompt, status, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.GroupFolder, t.Schedule, t.Prompt, t.Status,
		t.NextRun.UTC().Format(timeLayout), t.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("add task %q: %w", t.ID, err)
	}
	return nil
}

// GetAllTasks returns every scheduled task.
func (s *Store) GetAllTasks() ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, group_folder, schedule, prompt, status, next_run, created_at
		FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var next, created string
		if err := rows.Scan(&t.ID, &t.GroupFolder, &t.Schedule, &t.Prompt, &t.Status, &next, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.NextRun, _ = time.Parse(time.RFC3339Nano, next)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetTaskNextRun records the next fire time after a task runs.
func (s *Store) SetTaskNextRun(id string, next time.Time) error {
	_, err := s.db.Exec(`UPDATE tasks SET next_run = ? WHERE id = ?`,
		next.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update task %q: %w", id, err)
	}
	return nil
}

// DeleteTask removes a scheduled task.
func (s *Store) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %q: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    jid             TEXT PRIMARY KEY,
    name            TEXT DEFAULT '',
    last_message_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL,
    chat_jid    TEXT NOT NULL,
    sender      TEXT DEFAULT '',
    sender_name TEXT DEFAULT '',
    content     TEXT DEFAULT '',
    timestamp   TEXT NOT NULL,
    is_from_me  INTEGER DEFAULT 0,
    UNIQUE (id, chat_jid)
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_jid, seq);

CREATE TABLE IF NOT EXISTS registered_groups (
    jid              TEXT PRIMARY KEY,
    name             TEXT DEFAULT '',
    folder           TEXT NOT NULL UNIQUE,
    trigger_word     TEXT DEFAULT '',
    requires_trigger INTEGER DEFAULT 1,
    added_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    folder     TEXT PRIMARY KEY,
    token      TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
    folder   TEXT PRIMARY KEY,
    last_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    group_folder TEXT NOT NULL,
    schedule     TEXT NOT NULL,
    prompt       TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'active',
    next_run     TEXT DEFAULT '',
    created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_folder ON tasks(group_folder);
`

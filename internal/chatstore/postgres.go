// Package chatstore is the C2 chat repository port's Postgres adapter: the
// persistent home for sessions, messages and file/section metadata. It
// borrows its connection-pool and schema-bootstrap idiom from the vector
// store adapter (pgxpool, idempotent CREATE TABLE IF NOT EXISTS), since both
// talk to the same Postgres instance.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/ragsentry/internal/domain"
)

// Store persists chat sessions, messages and file metadata in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the relational schema exists.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is reachable, used by the
// /pg/health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const statements = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	password_salt TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	owner TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	idx INT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (session_id, idx)
);

CREATE TABLE IF NOT EXISTS files (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	total_chunks INT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS file_sections (
	file_id UUID NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	section_index INT NOT NULL,
	page_start INT NOT NULL,
	page_end INT NOT NULL,
	text TEXT NOT NULL,
	PRIMARY KEY (file_id, section_index)
);
`
	_, err := s.pool.Exec(ctx, statements)
	if err != nil {
		return fmt.Errorf("ensure chat schema: %w", err)
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, owner, title string) (domain.Session, error) {
	now := time.Now().UTC()
	sess := domain.Session{ID: uuid.NewString(), Owner: owner, Title: title, CreatedAt: now, UpdatedAt: now}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, owner, title, created_at, updated_at) VALUES ($1,$2,$3,$4,$5)`,
		sess.ID, sess.Owner, sess.Title, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return domain.Session{}, domain.NewError(domain.KindStorageError, "create session", err)
	}
	return sess, nil
}

// GetSession fetches a single session by ID.
func (s *Store) GetSession(ctx context.Context, sid string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner, title, created_at, updated_at FROM sessions WHERE id = $1`, sid)

	var sess domain.Session
	if err := row.Scan(&sess.ID, &sess.Owner, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Session{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("session %s", sid), err)
		}
		return domain.Session{}, domain.NewError(domain.KindStorageError, "get session", err)
	}
	return sess, nil
}

// DeleteSession removes a session and cascades to its messages.
func (s *Store) DeleteSession(ctx context.Context, sid string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sid)
	if err != nil {
		return false, domain.NewError(domain.KindStorageError, "delete session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AddMessage appends a message, assigning the next dense index for the session.
func (s *Store) AddMessage(ctx context.Context, sid string, role domain.Role, content string) (domain.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	// Advisory-lock the session row so concurrent turns for the same sid
	// serialize their index assignment (single-writer-per-session).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sid); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "lock session", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, sid).Scan(&exists); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "check session", err)
	}
	if !exists {
		return domain.Message{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("session %s", sid), nil)
	}

	var nextIndex int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(idx) + 1, 0) FROM messages WHERE session_id = $1`, sid).Scan(&nextIndex); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "compute next index", err)
	}

	msg := domain.Message{SessionID: sid, Role: role, Content: content, Index: nextIndex, CreatedAt: time.Now().UTC()}
	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (session_id, idx, role, content, created_at) VALUES ($1,$2,$3,$4,$5)`,
		msg.SessionID, msg.Index, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "insert message", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE sessions SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, sid); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "touch session", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, domain.NewError(domain.KindStorageError, "commit tx", err)
	}
	return msg, nil
}

// ListMessages returns all messages for a session ordered by index.
func (s *Store) ListMessages(ctx context.Context, sid string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, idx, role, content, created_at FROM messages WHERE session_id = $1 ORDER BY idx ASC`, sid)
	if err != nil {
		return nil, domain.NewError(domain.KindStorageError, "list messages", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		if err := rows.Scan(&m.SessionID, &m.Index, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, domain.NewError(domain.KindStorageError, "scan message", err)
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorageError, "iterate messages", err)
	}
	return out, nil
}

// CreateFile inserts a new pending file document.
func (s *Store) CreateFile(ctx context.Context, filename, path string) (domain.FileDocument, error) {
	now := time.Now().UTC()
	doc := domain.FileDocument{ID: uuid.NewString(), Filename: filename, Path: path, Status: domain.FileStatusPending, CreatedAt: now, UpdatedAt: now}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, filename, path, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		doc.ID, doc.Filename, doc.Path, string(doc.Status), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return domain.FileDocument{}, domain.NewError(domain.KindStorageError, "create file", err)
	}
	return doc, nil
}

// ListFiles returns every tracked file document.
func (s *Store) ListFiles(ctx context.Context) ([]domain.FileDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, path, status, total_chunks, error_message, created_at, updated_at FROM files ORDER BY created_at ASC`)
	if err != nil {
		return nil, domain.NewError(domain.KindStorageError, "list files", err)
	}
	defer rows.Close()

	var out []domain.FileDocument
	for rows.Next() {
		doc, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// GetFile fetches a single file document.
func (s *Store) GetFile(ctx context.Context, fid string) (domain.FileDocument, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, filename, path, status, total_chunks, error_message, created_at, updated_at FROM files WHERE id = $1`, fid)

	var doc domain.FileDocument
	var status string
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.Path, &status, &doc.TotalChunks, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FileDocument{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("file %s", fid), err)
		}
		return domain.FileDocument{}, domain.NewError(domain.KindStorageError, "get file", err)
	}
	doc.Status = normalizeFileStatus(status, doc.TotalChunks)
	return doc, nil
}

// UpdateFileStatus transitions a file's lifecycle state.
func (s *Store) UpdateFileStatus(ctx context.Context, fid string, status domain.FileStatus, errMsg string, totalChunks *int) error {
	now := time.Now().UTC()
	if totalChunks != nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE files SET status=$1, error_message=$2, total_chunks=$3, updated_at=$4 WHERE id=$5`,
			string(status), errMsg, *totalChunks, now, fid)
		if err != nil {
			return domain.NewError(domain.KindStorageError, "update file status", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE files SET status=$1, error_message=$2, updated_at=$3 WHERE id=$4`,
		string(status), errMsg, now, fid)
	if err != nil {
		return domain.NewError(domain.KindStorageError, "update file status", err)
	}
	return nil
}

// AddSections persists extracted sections for a file. The indexing pipeline
// calls it on every run with what its SectionExtractor returned; a row with
// an existing section index is overwritten.
func (s *Store) AddSections(ctx context.Context, fid string, sections []domain.FileSection) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.NewError(domain.KindStorageError, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	for _, sec := range sections {
		if _, err := tx.Exec(ctx,
			`INSERT INTO file_sections (file_id, section_index, page_start, page_end, text) VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (file_id, section_index) DO UPDATE SET page_start=EXCLUDED.page_start, page_end=EXCLUDED.page_end, text=EXCLUDED.text`,
			fid, sec.SectionIndex, sec.PageStart, sec.PageEnd, sec.Text); err != nil {
			return domain.NewError(domain.KindStorageError, "insert section", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewError(domain.KindStorageError, "commit tx", err)
	}
	return nil
}

// ListSections returns a file's sections ordered by section index.
func (s *Store) ListSections(ctx context.Context, fid string) ([]domain.FileSection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT file_id, section_index, page_start, page_end, text FROM file_sections WHERE file_id = $1 ORDER BY section_index ASC`, fid)
	if err != nil {
		return nil, domain.NewError(domain.KindStorageError, "list sections", err)
	}
	defer rows.Close()

	var out []domain.FileSection
	for rows.Next() {
		var sec domain.FileSection
		if err := rows.Scan(&sec.FileID, &sec.SectionIndex, &sec.PageStart, &sec.PageEnd, &sec.Text); err != nil {
			return nil, domain.NewError(domain.KindStorageError, "scan section", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// CreateUser inserts a new registered account.
func (s *Store) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, password_salt, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		user.ID, user.Email, user.FullName, user.PasswordHash, user.PasswordSalt, user.CreatedAt)
	if err != nil {
		return domain.User{}, domain.NewError(domain.KindValidation, "create user (email may already exist)", err)
	}
	return user, nil
}

// GetUserByEmail fetches an account by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, password_salt, created_at FROM users WHERE email = $1`, email)

	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.PasswordSalt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("user %s", email), err)
		}
		return domain.User{}, domain.NewError(domain.KindStorageError, "get user", err)
	}
	return u, nil
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner) (domain.FileDocument, error) {
	var doc domain.FileDocument
	var status string
	if err := r.Scan(&doc.ID, &doc.Filename, &doc.Path, &status, &doc.TotalChunks, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return domain.FileDocument{}, domain.NewError(domain.KindStorageError, "scan file", err)
	}
	doc.Status = normalizeFileStatus(status, doc.TotalChunks)
	return doc, nil
}

// normalizeFileStatus maps a legacy "ready" row that already accumulated
// chunks onto "indexed" — the only RAG-eligible terminal state, per the
// open question in spec.md §9.
func normalizeFileStatus(status string, totalChunks int) domain.FileStatus {
	s := domain.FileStatus(status)
	if s == domain.FileStatusReady && totalChunks > 0 {
		return domain.FileStatusIndexed
	}
	return s
}

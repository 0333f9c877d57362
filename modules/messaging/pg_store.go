package messaging

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/example/presence-chat/domain/chat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS usuarios (
	id              BIGSERIAL PRIMARY KEY,
	nombre          TEXT NOT NULL,
	email           TEXT NOT NULL UNIQUE,
	password        TEXT NOT NULL,
	area            TEXT NOT NULL DEFAULT '',
	github_username TEXT NOT NULL DEFAULT '',
	fecha_registro  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mensajes_privados (
	id              BIGSERIAL PRIMARY KEY,
	remitente_id    BIGINT NOT NULL,
	destinatario_id BIGINT NOT NULL,
	mensaje         TEXT NOT NULL,
	fecha           TIMESTAMPTZ NOT NULL DEFAULT now(),
	leido           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_pair ON mensajes_privados (remitente_id, destinatario_id);
CREATE INDEX IF NOT EXISTS idx_mensajes_privados_fecha ON mensajes_privados (fecha);
`

const messageColumns = "id, remitente_id, destinatario_id, mensaje, fecha, leido"
const userColumns = "id, nombre, email, password, area, github_username, fecha_registro"

// PostgresStore keeps messages and users in PostgreSQL through pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to databaseURL and creates the schema.
func OpenPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// InsertMessage stores msg and fills in its id.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *domain.PrivateMessage) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO mensajes_privados (remitente_id, destinatario_id, mensaje, fecha, leido)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		msg.SenderID, msg.RecipientID, msg.Body, msg.SentAt, msg.Read,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindMessage retrieves a message by id.
func (s *PostgresStore) FindMessage(ctx context.Context, id int64) (*domain.PrivateMessage, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+messageColumns+" FROM mensajes_privados WHERE id = $1", id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return msg, nil
}

// Conversation returns both directions of (a, b) in send order.
func (s *PostgresStore) Conversation(ctx context.Context, a, b int64) ([]*domain.PrivateMessage, error) {
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+` FROM mensajes_privados
		 WHERE (remitente_id = $1 AND destinatario_id = $2) OR (remitente_id = $2 AND destinatario_id = $1)
		 ORDER BY fecha ASC, id ASC`,
		a, b)
}

// MessagesInvolving returns all messages sent or received by userID.
func (s *PostgresStore) MessagesInvolving(ctx context.Context, userID int64) ([]*domain.PrivateMessage, error) {
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+` FROM mensajes_privados
		 WHERE remitente_id = $1 OR destinatario_id = $1
		 ORDER BY fecha ASC, id ASC`,
		userID)
}

func (s *PostgresStore) queryMessages(ctx context.Context, sql string, args ...any) ([]*domain.PrivateMessage, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*domain.PrivateMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return msgs, nil
}

// MarkRead flips unread messages from senderID to recipientID.
func (s *PostgresStore) MarkRead(ctx context.Context, recipientID, senderID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE mensajes_privados SET leido = TRUE
		 WHERE destinatario_id = $1 AND remitente_id = $2 AND leido = FALSE`,
		recipientID, senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateUser stores a new user.
func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usuarios (nombre, email, password, area, github_username)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, fecha_registro`,
		user.Name, user.Email, user.Password, user.Area, user.GitHub,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM usuarios WHERE email = $1", email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUsersByIDs retrieves the users with the given ids.
func (s *PostgresStore) FindUsersByIDs(ctx context.Context, ids []int64) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	return s.queryUsers(ctx, "SELECT "+userColumns+" FROM usuarios WHERE id = ANY($1)", ids)
}

// ListUsers returns every user except excludeID, ordered by name.
func (s *PostgresStore) ListUsers(ctx context.Context, excludeID int64) ([]*domain.User, error) {
	return s.queryUsers(ctx, "SELECT "+userColumns+" FROM usuarios WHERE id <> $1 ORDER BY nombre ASC", excludeID)
}

func (s *PostgresStore) queryUsers(ctx context.Context, sql string, args ...any) ([]*domain.User, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}

// Backend names the storage engine.
func (s *PostgresStore) Backend() string {
	return "postgres"
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessage(row pgx.Row) (*domain.PrivateMessage, error) {
	var msg domain.PrivateMessage
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Body, &msg.SentAt, &msg.Read); err != nil {
		return nil, err
	}
	msg.SentAt = msg.SentAt.UTC()
	return &msg, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.Area, &user.GitHub, &user.CreatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

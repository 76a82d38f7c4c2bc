package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/trustgate/internal/domain"
)

// fetchUserQuery — константа. Идентификатор попадает в запрос ТОЛЬКО
// типизированным параметром; конкатенации текста запроса не существует.
const fetchUserQuery = `
	SELECT id, username, password_hash, email_encrypted, created_at, updated_at
	FROM secure_user_data WHERE id = $1`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(ctx context.Context, url string, maxConns, minConns int32) (*UserRepo, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &UserRepo{pool: pool}, nil
}

// FetchByID выполняет параметризованное чтение записи.
// Соединение scoped: Acquire с гарантированным Release на любом пути выхода.
func (r *UserRepo) FetchByID(ctx context.Context, identifier any) (*domain.UserRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire failed: %w", err)
	}
	defer conn.Release()

	u := &domain.UserRecord{}
	err = conn.QueryRow(ctx, fetchUserQuery, identifier).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.EmailEncrypted, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: query failed: %w", err)
	}
	return u, nil
}

// Ping проверяет доступность базы при старте
func (r *UserRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *UserRepo) Close() {
	r.pool.Close()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"galleria/internal/storage/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

type Store struct {
	pool *pgxpool.Pool
}

// Picture is a stored photo. FileID is the object key handed to the signer.
// API clients see it as file_id, but the media route serves it only behind a
// valid signature.
type Picture struct {
	ID         string     `json:"id"`
	AlbumID    string     `json:"album_id"`
	Title      string     `json:"title"`
	FileID     string     `json:"file_id"`
	MimeType   string     `json:"mime_type"`
	FileSize   int64      `json:"file_size"`
	Width      *int32     `json:"width,omitempty"`
	Height     *int32     `json:"height,omitempty"`
	UploadedAt time.Time  `json:"uploaded_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

var ErrNotFound = errors.New("picture not found")

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations using a short-lived database/sql
// handle on the pgx driver.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("db open error: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const pictureColumns = `id, album_id, title, file_id, mime_type, file_size, width, height, uploaded_at, deleted_at`

func (s *Store) CreatePicture(ctx context.Context, p Picture) (Picture, error) {
	const query = `
		INSERT INTO pictures (id, album_id, title, file_id, mime_type, file_size, width, height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + pictureColumns
	row := s.pool.QueryRow(ctx, query, p.ID, p.AlbumID, p.Title, p.FileID, p.MimeType, p.FileSize, p.Width, p.Height)
	return scanPicture(row)
}

func (s *Store) GetPicture(ctx context.Context, id string) (Picture, error) {
	const query = `
		SELECT ` + pictureColumns + `
		FROM pictures
		WHERE id = $1 AND deleted_at IS NULL`
	row := s.pool.QueryRow(ctx, query, id)
	return scanPicture(row)
}

func (s *Store) ListPictures(ctx context.Context, albumID string) ([]Picture, error) {
	const query = `
		SELECT ` + pictureColumns + `
		FROM pictures
		WHERE album_id = $1 AND deleted_at IS NULL
		ORDER BY uploaded_at DESC`
	rows, err := s.pool.Query(ctx, query, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pictures := []Picture{}
	for rows.Next() {
		p, err := scanPicture(rows)
		if err != nil {
			return nil, err
		}
		pictures = append(pictures, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pictures, nil
}

// SoftDeletePicture hides the picture. The stored object is kept so the
// picture can be restored.
func (s *Store) SoftDeletePicture(ctx context.Context, id string) error {
	const query = `UPDATE pictures SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RestorePicture(ctx context.Context, id string) (Picture, error) {
	const query = `
		UPDATE pictures SET deleted_at = NULL
		WHERE id = $1 AND deleted_at IS NOT NULL
		RETURNING ` + pictureColumns
	row := s.pool.QueryRow(ctx, query, id)
	return scanPicture(row)
}

func scanPicture(row pgx.Row) (Picture, error) {
	var p Picture
	err := row.Scan(&p.ID, &p.AlbumID, &p.Title, &p.FileID, &p.MimeType, &p.FileSize,
		&p.Width, &p.Height, &p.UploadedAt, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Picture{}, ErrNotFound
		}
		return Picture{}, err
	}
	return p, nil
}

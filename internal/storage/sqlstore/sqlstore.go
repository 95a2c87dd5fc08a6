// Package sqlstore implements storage.Store on database/sql, backed by
// PostgreSQL through pgx or by pure-Go SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/storage"
)

// Driver names accepted by Open.
const (
	Postgres = "pgx"
	SQLite   = "sqlite"
)

// Store is a storage.Store over a SQL database.
type Store struct {
	DB     *sql.DB
	driver string
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn with the given driver and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var schema []string
	switch driver {
	case Postgres:
		schema = postgresSchema
	case SQLite:
		schema = sqliteSchema
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == SQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	slog.Info("Database ready", "driver", driver)
	return &Store{DB: db, driver: driver}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

var postgresSchema = []string{
	`create table if not exists books (
		id bigserial primary key,
		title text not null,
		author text not null default '',
		original_language text not null default 'german',
		created_at timestamptz not null
	)`,
	`create table if not exists pages (
		id bigserial primary key,
		book_id bigint not null references books(id) on delete cascade,
		page_number integer not null,
		page_type text not null default 'text',
		german_text text not null default '',
		korean_text text not null default '',
		korean_version integer not null default 0,
		english_text text not null default '',
		english_version integer not null default 0,
		sentences_json jsonb,
		blocks_json jsonb,
		original_image_ref text not null default '',
		continuation_text text not null default '',
		created_at timestamptz not null,
		unique (book_id, page_number)
	)`,
	`create table if not exists translation_history (
		id bigserial primary key,
		page_id bigint not null references pages(id) on delete cascade,
		field text not null,
		translation_text text not null,
		version_number integer not null,
		is_active boolean not null,
		created_at timestamptz not null
	)`,
	`create index if not exists translation_history_page_idx on translation_history (page_id, field)`,
}

var sqliteSchema = []string{
	`create table if not exists books (
		id integer primary key autoincrement,
		title text not null,
		author text not null default '',
		original_language text not null default 'german',
		created_at timestamp not null
	)`,
	`create table if not exists pages (
		id integer primary key autoincrement,
		book_id integer not null references books(id) on delete cascade,
		page_number integer not null,
		page_type text not null default 'text',
		german_text text not null default '',
		korean_text text not null default '',
		korean_version integer not null default 0,
		english_text text not null default '',
		english_version integer not null default 0,
		sentences_json text,
		blocks_json text,
		original_image_ref text not null default '',
		continuation_text text not null default '',
		created_at timestamp not null,
		unique (book_id, page_number)
	)`,
	`create table if not exists translation_history (
		id integer primary key autoincrement,
		page_id integer not null references pages(id) on delete cascade,
		field text not null,
		translation_text text not null,
		version_number integer not null,
		is_active boolean not null,
		created_at timestamp not null
	)`,
	`create index if not exists translation_history_page_idx on translation_history (page_id, field)`,
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateBook(ctx context.Context, book *models.Book) error {
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}
	const q = `insert into books (title, author, original_language, created_at)
values ($1, $2, $3, $4) returning id`
	if err := s.DB.QueryRowContext(ctx, q, book.Title, book.Author, book.OriginalLanguage, book.CreatedAt).Scan(&book.ID); err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	book.PageCount = 0
	return nil
}

const bookColumns = `b.id, b.title, b.author, b.original_language, b.created_at,
(select count(*) from pages p where p.book_id = b.id)`

func scanBook(row interface{ Scan(...any) error }) (*models.Book, error) {
	var b models.Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.OriginalLanguage, &b.CreatedAt, &b.PageCount); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	b, err := scanBook(s.DB.QueryRowContext(ctx, `select `+bookColumns+` from books b where b.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrBookNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load book %d: %w", id, err)
	}
	return b, nil
}

func (s *Store) ListBooks(ctx context.Context) ([]models.Book, error) {
	rows, err := s.DB.QueryContext(ctx, `select `+bookColumns+` from books b order by b.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var result []models.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (s *Store) DeleteBook(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from translation_history where page_id in (select id from pages where book_id = $1)`, id); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `delete from pages where book_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete pages: %w", err)
		}
		res, err := tx.ExecContext(ctx, `delete from books where id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", storage.ErrBookNotFound, id)
		}
		return nil
	})
}

const pageColumns = `id, book_id, page_number, page_type, german_text,
korean_text, korean_version, english_text, english_version,
sentences_json, blocks_json, original_image_ref, continuation_text, created_at`

func scanPage(row interface{ Scan(...any) error }) (*models.Page, error) {
	var (
		p                  models.Page
		ko, en             models.Translation
		sentences, content sql.NullString
	)
	if err := row.Scan(&p.ID, &p.BookID, &p.PageNumber, &p.PageType, &p.SourceText,
		&ko.Text, &ko.Version, &en.Text, &en.Version,
		&sentences, &content, &p.OriginalImageRef, &p.ContinuationText, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Translations = map[models.Language]models.Translation{}
	if ko.Version > 0 || ko.Text != "" {
		p.Translations[models.Korean] = ko
	}
	if en.Version > 0 || en.Text != "" {
		p.Translations[models.English] = en
	}
	if sentences.Valid && sentences.String != "" {
		if err := json.Unmarshal([]byte(sentences.String), &p.Sentences); err != nil {
			return nil, fmt.Errorf("page %d: bad sentences: %w", p.ID, err)
		}
	}
	if content.Valid && content.String != "" {
		if err := json.Unmarshal([]byte(content.String), &p.Blocks); err != nil {
			return nil, fmt.Errorf("page %d: bad blocks: %w", p.ID, err)
		}
	}
	return &p, nil
}

// encodeContent renders the JSON columns of p; empty values become NULL.
func encodeContent(p *models.Page) (sentences, content sql.NullString, err error) {
	if len(p.Sentences) > 0 {
		b, err := json.Marshal(p.Sentences)
		if err != nil {
			return sentences, content, fmt.Errorf("failed to encode sentences: %w", err)
		}
		sentences = sql.NullString{String: string(b), Valid: true}
	}
	if len(p.Blocks) > 0 {
		b, err := json.Marshal(p.Blocks)
		if err != nil {
			return sentences, content, fmt.Errorf("failed to encode blocks: %w", err)
		}
		content = sql.NullString{String: string(b), Valid: true}
	}
	return sentences, content, nil
}

func (s *Store) GetPage(ctx context.Context, id int64) (*models.Page, error) {
	p, err := scanPage(s.DB.QueryRowContext(ctx, `select `+pageColumns+` from pages where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load page %d: %w", id, err)
	}
	return p, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func bookExists(ctx context.Context, q queryRower, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from books where id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", storage.ErrBookNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to look up book %d: %w", id, err)
	}
	return nil
}

func (s *Store) ListPages(ctx context.Context, bookID int64) ([]*models.Page, error) {
	if err := bookExists(ctx, s.DB, bookID); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `select `+pageColumns+` from pages where book_id = $1 order by page_number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var result []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) LastPage(ctx context.Context, bookID int64) (*models.Page, error) {
	if err := bookExists(ctx, s.DB, bookID); err != nil {
		return nil, err
	}
	p, err := scanPage(s.DB.QueryRowContext(ctx,
		`select `+pageColumns+` from pages where book_id = $1 order by page_number desc limit 1`, bookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last page: %w", err)
	}
	return p, nil
}

func (s *Store) AppendPage(ctx context.Context, page *models.Page, history ...models.HistoryEntry) error {
	sentences, content, err := encodeContent(page)
	if err != nil {
		return err
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	ko, en := page.Translations[models.Korean], page.Translations[models.English]

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := bookExists(ctx, tx, page.BookID); err != nil {
			return err
		}
		var last int
		if err := tx.QueryRowContext(ctx, `select coalesce(max(page_number), 0) from pages where book_id = $1`, page.BookID).Scan(&last); err != nil {
			return fmt.Errorf("failed to read last page number: %w", err)
		}

		const q = `insert into pages (book_id, page_number, page_type, german_text,
korean_text, korean_version, english_text, english_version,
sentences_json, blocks_json, original_image_ref, continuation_text, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) returning id`
		var id int64
		if err := tx.QueryRowContext(ctx, q, page.BookID, last+1, page.PageType, page.SourceText,
			ko.Text, ko.Version, en.Text, en.Version,
			sentences, content, page.OriginalImageRef, page.ContinuationText, page.CreatedAt).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert page: %w", err)
		}
		if err := insertHistory(ctx, tx, id, history); err != nil {
			return err
		}
		page.ID = id
		page.PageNumber = last + 1
		return nil
	})
}

func (s *Store) UpdatePage(ctx context.Context, page *models.Page, history ...models.HistoryEntry) error {
	sentences, content, err := encodeContent(page)
	if err != nil {
		return err
	}
	ko, en := page.Translations[models.Korean], page.Translations[models.English]

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `update pages set page_type = $1, german_text = $2,
korean_text = $3, korean_version = $4, english_text = $5, english_version = $6,
sentences_json = $7, blocks_json = $8, original_image_ref = $9, continuation_text = $10
where id = $11`
		res, err := tx.ExecContext(ctx, q, page.PageType, page.SourceText,
			ko.Text, ko.Version, en.Text, en.Version,
			sentences, content, page.OriginalImageRef, page.ContinuationText, page.ID)
		if err != nil {
			return fmt.Errorf("failed to update page %d: %w", page.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %d", storage.ErrPageNotFound, page.ID)
		}
		return insertHistory(ctx, tx, page.ID, history)
	})
}

func insertHistory(ctx context.Context, tx *sql.Tx, pageID int64, entries []models.HistoryEntry) error {
	now := time.Now().UTC()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`update translation_history set is_active = $1 where page_id = $2 and field = $3`,
			false, pageID, string(e.Language)); err != nil {
			return fmt.Errorf("failed to deactivate history: %w", err)
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx,
			`insert into translation_history (page_id, field, translation_text, version_number, is_active, created_at)
values ($1, $2, $3, $4, $5, $6)`,
			pageID, string(e.Language), e.Text, e.Version, true, created); err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}
	}
	return nil
}

// pageNumber returns the book and number of a page inside tx.
func pageNumber(ctx context.Context, tx *sql.Tx, id int64) (bookID int64, number int, err error) {
	err = tx.QueryRowContext(ctx, `select book_id, page_number from pages where id = $1`, id).Scan(&bookID, &number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %d", storage.ErrPageNotFound, id)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load page %d: %w", id, err)
	}
	return bookID, number, nil
}

func (s *Store) SwapPages(ctx context.Context, a, b int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		bookA, numA, err := pageNumber(ctx, tx, a)
		if err != nil {
			return err
		}
		bookB, numB, err := pageNumber(ctx, tx, b)
		if err != nil {
			return err
		}
		if bookA != bookB {
			return fmt.Errorf("pages %d and %d belong to different books", a, b)
		}
		// park a on a free number so the unique index holds at every row
		steps := []struct {
			number int
			id     int64
		}{{-numA, a}, {numA, b}, {numB, a}}
		for _, st := range steps {
			if _, err := tx.ExecContext(ctx, `update pages set page_number = $1 where id = $2`, st.number, st.id); err != nil {
				return fmt.Errorf("failed to swap pages: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) DeletePage(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		bookID, number, err := pageNumber(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from translation_history where page_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `delete from pages where id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}
		// shift through negative numbers; a direct decrement can collide row by row
		if _, err := tx.ExecContext(ctx,
			`update pages set page_number = -(page_number - 1) where book_id = $1 and page_number > $2`,
			bookID, number); err != nil {
			return fmt.Errorf("failed to renumber pages: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`update pages set page_number = -page_number where book_id = $1 and page_number < 0`,
			bookID); err != nil {
			return fmt.Errorf("failed to renumber pages: %w", err)
		}
		return nil
	})
}

func (s *Store) ListHistory(ctx context.Context, pageID int64) ([]models.HistoryEntry, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `select 1 from pages where id = $1`, pageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrPageNotFound, pageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up page %d: %w", pageID, err)
	}

	rows, err := s.DB.QueryContext(ctx, `select id, page_id, field, translation_text, version_number, is_active, created_at
from translation_history where page_id = $1 order by id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var result []models.HistoryEntry
	for rows.Next() {
		var (
			e     models.HistoryEntry
			field string
		)
		if err := rows.Scan(&e.ID, &e.PageID, &field, &e.Text, &e.Version, &e.Active, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Language = models.Language(field)
		result = append(result, e)
	}
	return result, rows.Err()
}

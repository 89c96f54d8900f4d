// Package sqlitedb is the default persistent record store backend. It
// keeps links and folders in a single SQLite file through the pure-Go
// modernc.org/sqlite driver, so deployments need no cgo and no server.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// SqliteDB implements the storage contract on top of a SQLite file.
type SqliteDB struct {
	database *sql.DB
}

const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS folders (
	folder_id TEXT PRIMARY KEY,
	owner_id  TEXT NOT NULL,
	name      TEXT NOT NULL,
	UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS links (
	link_id      TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	title        TEXT NOT NULL,
	short_url    TEXT NOT NULL,
	original_url TEXT NOT NULL,
	folder_id    TEXT,
	created_at   TIMESTAMP NOT NULL,
	UNIQUE (owner_id, short_url)
);

CREATE INDEX IF NOT EXISTS idx_links_owner ON links (owner_id);
CREATE INDEX IF NOT EXISTS idx_folders_owner ON folders (owner_id);
`

// New opens (creating when absent) the database file and applies the
// idempotent bootstrap DDL.
func New(ctx context.Context, fileName string) (*SqliteDB, error) {
	database, err := sql.Open("sqlite", fileName)
	if err != nil {
		return nil, fmt.Errorf("in internal/db/sqlitedb/sqlitedb.go/New(): error while `sql.Open()` calling: %w", err)
	}

	// The driver multiplexes one file; more writers just contend.
	database.SetMaxOpenConns(1)

	if _, err := database.ExecContext(ctx, bootstrapDDL); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("in internal/db/sqlitedb/sqlitedb.go/New(): error while schema bootstrap: %w", err)
	}

	return &SqliteDB{database: database}, nil
}

func nullableFolder(folderID string) sql.NullString {
	return sql.NullString{String: folderID, Valid: folderID != ""}
}

func (db *SqliteDB) AddLink(ctx context.Context, link *models.Link) (string, error) {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer transaction.Rollback()

	var exists int
	err = transaction.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM links WHERE owner_id = ? AND short_url = ?`,
		link.OwnerID,
		link.ShortURL,
	).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists > 0 {
		return "", models.ErrDuplicate
	}

	if link.FolderID != "" {
		if err := folderExists(ctx, transaction, link.OwnerID, link.FolderID); err != nil {
			return "", err
		}
	}

	link.ID = uuid.New().String()
	link.CreatedAt = time.Now()

	_, err = transaction.ExecContext(
		ctx,
		`INSERT INTO links (link_id, owner_id, title, short_url, original_url, folder_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.ID,
		link.OwnerID,
		link.Title,
		link.ShortURL,
		link.OriginalURL,
		nullableFolder(link.FolderID),
		link.CreatedAt,
	)
	if err != nil {
		return "", err
	}

	return link.ID, transaction.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func folderExists(ctx context.Context, database queryer, ownerID, folderID string) error {
	var one int
	err := database.QueryRowContext(
		ctx,
		`SELECT 1 FROM folders WHERE owner_id = ? AND folder_id = ?`,
		ownerID,
		folderID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}

	return err
}

func scanLink(scanner interface{ Scan(...any) error }) (*models.Link, error) {
	var link models.Link
	var folderID sql.NullString
	err := scanner.Scan(
		&link.ID,
		&link.OwnerID,
		&link.Title,
		&link.ShortURL,
		&link.OriginalURL,
		&folderID,
		&link.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.FolderID = folderID.String

	return &link, nil
}

const linkColumns = `link_id, owner_id, title, short_url, original_url, folder_id, created_at`

func (db *SqliteDB) GetLink(ctx context.Context, ownerID, linkID string) (*models.Link, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT `+linkColumns+` FROM links WHERE owner_id = ? AND link_id = ?`,
		ownerID,
		linkID,
	)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return link, nil
}

func (db *SqliteDB) RenameLink(ctx context.Context, ownerID, linkID, title string) error {
	result, err := db.database.ExecContext(
		ctx,
		`UPDATE links SET title = ? WHERE owner_id = ? AND link_id = ?`,
		title,
		ownerID,
		linkID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

func (db *SqliteDB) DeleteLink(ctx context.Context, ownerID, linkID string) error {
	result, err := db.database.ExecContext(
		ctx,
		`DELETE FROM links WHERE owner_id = ? AND link_id = ?`,
		ownerID,
		linkID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (db *SqliteDB) MoveLink(ctx context.Context, ownerID, linkID, folderID string) error {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer transaction.Rollback()

	if folderID != "" {
		if err := folderExists(ctx, transaction, ownerID, folderID); err != nil {
			return err
		}
	}

	result, err := transaction.ExecContext(
		ctx,
		`UPDATE links SET folder_id = ? WHERE owner_id = ? AND link_id = ?`,
		nullableFolder(folderID),
		ownerID,
		linkID,
	)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	return transaction.Commit()
}

func (db *SqliteDB) ListLinks(
	ctx context.Context,
	ownerID string,
	filter models.FolderFilter,
) ([]models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE owner_id = ?`
	args := []any{ownerID}
	switch {
	case filter.OnlyUnfiled:
		query += ` AND folder_id IS NULL`
	case filter.FolderID != "":
		query += ` AND folder_id = ?`
		args = append(args, filter.FolderID)
	}
	query += ` ORDER BY rowid`

	rows, err := db.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *link)
	}

	return result, rows.Err()
}

func (db *SqliteDB) CreateFolder(ctx context.Context, ownerID, name string) (*models.Folder, error) {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer transaction.Rollback()

	var exists int
	err = transaction.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM folders WHERE owner_id = ? AND name = ?`,
		ownerID,
		name,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, models.ErrDuplicate
	}

	folder := &models.Folder{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Name:    name,
	}
	_, err = transaction.ExecContext(
		ctx,
		`INSERT INTO folders (folder_id, owner_id, name) VALUES (?, ?, ?)`,
		folder.ID,
		folder.OwnerID,
		folder.Name,
	)
	if err != nil {
		return nil, err
	}

	return folder, transaction.Commit()
}

func (db *SqliteDB) GetFolder(ctx context.Context, ownerID, folderID string) (*models.Folder, error) {
	var folder models.Folder
	err := db.database.QueryRowContext(
		ctx,
		`SELECT folder_id, owner_id, name FROM folders WHERE owner_id = ? AND folder_id = ?`,
		ownerID,
		folderID,
	).Scan(&folder.ID, &folder.OwnerID, &folder.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &folder, nil
}

func (db *SqliteDB) ListFolders(ctx context.Context, ownerID string) ([]models.Folder, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT folder_id, owner_id, name FROM folders WHERE owner_id = ? ORDER BY rowid`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Folder
	for rows.Next() {
		var folder models.Folder
		if err := rows.Scan(&folder.ID, &folder.OwnerID, &folder.Name); err != nil {
			return nil, err
		}
		result = append(result, folder)
	}

	return result, rows.Err()
}

func (db *SqliteDB) DeleteFolder(ctx context.Context, ownerID, folderID string) error {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer transaction.Rollback()

	_, err = transaction.ExecContext(
		ctx,
		`UPDATE links SET folder_id = NULL WHERE owner_id = ? AND folder_id = ?`,
		ownerID,
		folderID,
	)
	if err != nil {
		return err
	}

	result, err := transaction.ExecContext(
		ctx,
		`DELETE FROM folders WHERE owner_id = ? AND folder_id = ?`,
		ownerID,
		folderID,
	)
	if err != nil {
		return err
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	return transaction.Commit()
}

func (db *SqliteDB) ClearAll(ctx context.Context, ownerID string) ([]string, error) {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer transaction.Rollback()

	rows, err := transaction.QueryContext(
		ctx,
		`SELECT short_url FROM links WHERE owner_id = ?`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}

	var shortCodes []string
	for rows.Next() {
		var shortURL string
		if err := rows.Scan(&shortURL); err != nil {
			rows.Close()
			return nil, err
		}
		link := models.Link{ShortURL: shortURL}
		shortCodes = append(shortCodes, link.ShortCode())
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := transaction.ExecContext(ctx, `DELETE FROM links WHERE owner_id = ?`, ownerID); err != nil {
		return nil, err
	}
	if _, err := transaction.ExecContext(ctx, `DELETE FROM folders WHERE owner_id = ?`, ownerID); err != nil {
		return nil, err
	}

	return shortCodes, transaction.Commit()
}

func (db *SqliteDB) Ping(ctx context.Context) error {
	return db.database.PingContext(ctx)
}

func (db *SqliteDB) Close() error {
	return db.database.Close()
}

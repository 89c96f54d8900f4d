// Package postgresdb provides a PostgreSQL-based implementation of the
// record store for deployments where links and folders must outlive a
// single host. Schema changes are applied with goose migrations.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/vkccbot/internal/models"
)

// PostgresDB is a PostgreSQL-backed implementation of the record store.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
) (*PostgresDB, error) {
	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}
	if err := goose.Up(result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

func nullableFolder(folderID string) sql.NullString {
	return sql.NullString{String: folderID, Valid: folderID != ""}
}

func folderExists(ctx context.Context, database queryer, ownerID, folderID string) error {
	var one int
	err := database.QueryRowContext(
		ctx,
		`SELECT 1 FROM folders WHERE owner_id = $1 AND folder_id = $2`,
		ownerID,
		folderID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}

	return err
}

func (pgdb *PostgresDB) AddLink(outerCtx context.Context, link *models.Link) (string, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	transaction, err := pgdb.database.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer transaction.Rollback()

	var exists int
	err = transaction.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM links WHERE owner_id = $1 AND short_url = $2`,
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
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

const linkColumns = `link_id, owner_id, title, short_url, original_url, folder_id, created_at`

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

func (pgdb *PostgresDB) GetLink(outerCtx context.Context, ownerID, linkID string) (*models.Link, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	row := pgdb.database.QueryRowContext(
		ctx,
		`SELECT `+linkColumns+` FROM links WHERE owner_id = $1 AND link_id = $2`,
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

func (pgdb *PostgresDB) RenameLink(outerCtx context.Context, ownerID, linkID, title string) error {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	result, err := pgdb.database.ExecContext(
		ctx,
		`UPDATE links SET title = $1 WHERE owner_id = $2 AND link_id = $3`,
		title,
		ownerID,
		linkID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

func (pgdb *PostgresDB) DeleteLink(outerCtx context.Context, ownerID, linkID string) error {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	result, err := pgdb.database.ExecContext(
		ctx,
		`DELETE FROM links WHERE owner_id = $1 AND link_id = $2`,
		ownerID,
		linkID,
	)
	if err != nil {
		return err
	}

	return requireAffected(result)
}

func (pgdb *PostgresDB) MoveLink(outerCtx context.Context, ownerID, linkID, folderID string) error {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	transaction, err := pgdb.database.BeginTx(ctx, nil)
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
		`UPDATE links SET folder_id = $1 WHERE owner_id = $2 AND link_id = $3`,
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

func (pgdb *PostgresDB) ListLinks(
	outerCtx context.Context,
	ownerID string,
	filter models.FolderFilter,
) ([]models.Link, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM links WHERE owner_id = $1`
	args := []any{ownerID}
	switch {
	case filter.OnlyUnfiled:
		query += ` AND folder_id IS NULL`
	case filter.FolderID != "":
		query += ` AND folder_id = $2`
		args = append(args, filter.FolderID)
	}
	query += ` ORDER BY seq`

	rows, err := pgdb.database.QueryContext(ctx, query, args...)
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

func (pgdb *PostgresDB) CreateFolder(outerCtx context.Context, ownerID, name string) (*models.Folder, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	transaction, err := pgdb.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer transaction.Rollback()

	var exists int
	err = transaction.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM folders WHERE owner_id = $1 AND name = $2`,
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
		`INSERT INTO folders (folder_id, owner_id, name) VALUES ($1, $2, $3)`,
		folder.ID,
		folder.OwnerID,
		folder.Name,
	)
	if err != nil {
		return nil, err
	}

	return folder, transaction.Commit()
}

func (pgdb *PostgresDB) GetFolder(outerCtx context.Context, ownerID, folderID string) (*models.Folder, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	var folder models.Folder
	err := pgdb.database.QueryRowContext(
		ctx,
		`SELECT folder_id, owner_id, name FROM folders WHERE owner_id = $1 AND folder_id = $2`,
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

func (pgdb *PostgresDB) ListFolders(outerCtx context.Context, ownerID string) ([]models.Folder, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	rows, err := pgdb.database.QueryContext(
		ctx,
		`SELECT folder_id, owner_id, name FROM folders WHERE owner_id = $1 ORDER BY seq`,
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

func (pgdb *PostgresDB) DeleteFolder(outerCtx context.Context, ownerID, folderID string) error {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	transaction, err := pgdb.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer transaction.Rollback()

	_, err = transaction.ExecContext(
		ctx,
		`UPDATE links SET folder_id = NULL WHERE owner_id = $1 AND folder_id = $2`,
		ownerID,
		folderID,
	)
	if err != nil {
		return err
	}

	result, err := transaction.ExecContext(
		ctx,
		`DELETE FROM folders WHERE owner_id = $1 AND folder_id = $2`,
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

func (pgdb *PostgresDB) ClearAll(outerCtx context.Context, ownerID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	transaction, err := pgdb.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer transaction.Rollback()

	rows, err := transaction.QueryContext(
		ctx,
		`SELECT short_url FROM links WHERE owner_id = $1`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}

	var shortURLs []string
	for rows.Next() {
		var shortURL string
		if err := rows.Scan(&shortURL); err != nil {
			rows.Close()
			return nil, err
		}
		shortURLs = append(shortURLs, shortURL)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := transaction.ExecContext(ctx, `DELETE FROM links WHERE owner_id = $1`, ownerID); err != nil {
		return nil, err
	}
	if _, err := transaction.ExecContext(ctx, `DELETE FROM folders WHERE owner_id = $1`, ownerID); err != nil {
		return nil, err
	}
	if err := transaction.Commit(); err != nil {
		return nil, err
	}

	shortCodes := funk.Map(shortURLs, func(shortURL string) string {
		link := models.Link{ShortURL: shortURL}
		return link.ShortCode()
	}).([]string)

	return shortCodes, nil
}

func (pgdb *PostgresDB) Ping(outerCtx context.Context) error {
	ctx, cancel := context.WithTimeout(outerCtx, pgdb.connectionTimeout)
	defer cancel()

	return pgdb.database.PingContext(ctx)
}

func (pgdb *PostgresDB) Close() error {
	return pgdb.database.Close()
}

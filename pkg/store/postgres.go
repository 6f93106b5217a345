package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"commodity-forecast-api/pkg/models"

	_ "github.com/lib/pq"
)

// PostgresStore はPostgreSQL(JSONB)をドキュメントストアとして使う実装です。
// セッションキャッシュ用のキーバリューテーブルも提供します。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres は接続を確立し、必要なテーブルを作成します。
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("データベース接続の作成に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの接続確認に失敗: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close 接続を閉じる
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping 接続確認
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS predictions (
			id TEXT NOT NULL,
			uid TEXT NOT NULL,
			commodity TEXT NOT NULL,
			future_date TEXT NOT NULL,
			basis_keys JSONB NOT NULL DEFAULT '[]',
			basis_labels JSONB NOT NULL DEFAULT '[]',
			base_prices JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL,
			error TEXT,
			outputs JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (uid, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("predictions テーブルの作成に失敗: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS predictions_uid_updated_idx
		ON predictions (uid, updated_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("predictions インデックスの作成に失敗: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("session_cache テーブルの作成に失敗: %w", err)
	}
	return nil
}

// Upsert は読み取り→更新のトランザクションで上書きし、created_at は初回の値を保持します。
// outputs が NULL の書き込みでは既存の outputs を残します。
// JSONB 列には文字列で渡す（lib/pq は []byte を bytea として送るため）。
func (s *PostgresStore) Upsert(ctx context.Context, record models.PredictionRecord, now time.Time) (*models.PredictionRecord, error) {
	basisKeys, err := json.Marshal(nonNilStrings(record.BasisKeys))
	if err != nil {
		return nil, err
	}
	basisLabels, err := json.Marshal(nonNilStrings(record.BasisLabels))
	if err != nil {
		return nil, err
	}
	basePrices, err := json.Marshal(nonNilFloats(record.BasePrices))
	if err != nil {
		return nil, err
	}
	var outputs interface{}
	if len(record.Outputs) > 0 {
		outputs = string(record.Outputs)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback()

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM predictions WHERE uid = $1 AND id = $2 FOR UPDATE`, record.UID, record.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return nil, fmt.Errorf("既存レコードの読み込みに失敗: %w", err)
	}

	var storedOutputs []byte
	err = tx.QueryRowContext(ctx, `
		INSERT INTO predictions (
			id, uid, commodity, future_date, basis_keys, basis_labels, base_prices,
			status, error, outputs, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (uid, id)
		DO UPDATE SET
			basis_keys = EXCLUDED.basis_keys,
			basis_labels = EXCLUDED.basis_labels,
			base_prices = EXCLUDED.base_prices,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			outputs = COALESCE(EXCLUDED.outputs, predictions.outputs),
			updated_at = EXCLUDED.updated_at
		RETURNING outputs
	`,
		record.ID, record.UID, record.Commodity, record.FutureDate,
		string(basisKeys), string(basisLabels), string(basePrices),
		record.Status, nullString(record.Error), outputs, createdAt, now).Scan(&storedOutputs)
	if err != nil {
		return nil, fmt.Errorf("予測レコードの保存に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}

	record.CreatedAt = createdAt
	record.UpdatedAt = now
	if len(storedOutputs) > 0 {
		record.Outputs = json.RawMessage(storedOutputs)
	}
	return &record, nil
}

const selectColumns = `
	id, uid, commodity, future_date, basis_keys, basis_labels, base_prices,
	status, error, outputs, created_at, updated_at
`

func (s *PostgresStore) Get(ctx context.Context, uid, id string) (*models.PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM predictions WHERE id = $1 AND uid = $2`, id, uid)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("予測レコードの取得に失敗: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) List(ctx context.Context, uid string, filter ListFilter) ([]models.PredictionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM predictions
		WHERE uid = $1 AND ($2::text = '' OR commodity = $2::text)
		ORDER BY updated_at DESC
		LIMIT $3
	`, uid, filter.Commodity, limit)
	if err != nil {
		return nil, fmt.Errorf("予測履歴の取得に失敗: %w", err)
	}
	defer rows.Close()

	out := make([]models.PredictionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("予測履歴の読み込みに失敗: %w", err)
		}
		out = append(out, *record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, uid, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM predictions WHERE id = $1 AND uid = $2`, id, uid)
	if err != nil {
		return fmt.Errorf("予測レコードの削除に失敗: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.PredictionRecord, error) {
	var record models.PredictionRecord
	var basisKeys, basisLabels, basePrices []byte
	var errText sql.NullString
	var outputs []byte

	err := row.Scan(
		&record.ID, &record.UID, &record.Commodity, &record.FutureDate,
		&basisKeys, &basisLabels, &basePrices,
		&record.Status, &errText, &outputs, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(basisKeys, &record.BasisKeys); err != nil {
		return nil, fmt.Errorf("basis_keys の読み込みに失敗: %w", err)
	}
	if err := json.Unmarshal(basisLabels, &record.BasisLabels); err != nil {
		return nil, fmt.Errorf("basis_labels の読み込みに失敗: %w", err)
	}
	if err := json.Unmarshal(basePrices, &record.BasePrices); err != nil {
		return nil, fmt.Errorf("base_prices の読み込みに失敗: %w", err)
	}
	if errText.Valid {
		record.Error = errText.String
	}
	if len(outputs) > 0 {
		record.Outputs = json.RawMessage(outputs)
	}
	return &record, nil
}

// --- セッションキャッシュ用のキーバリューストア ---

// KV は session_cache テーブルを kvstore.Store として扱うビューです。
func (s *PostgresStore) KV() *PostgresKV {
	return &PostgresKV{db: s.db}
}

// PostgresKV session_cache テーブル
type PostgresKV struct {
	db *sql.DB
}

func (k *PostgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := k.db.QueryRowContext(ctx, `SELECT value FROM session_cache WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (k *PostgresKV) Set(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO session_cache (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value)
	return err
}

func (k *PostgresKV) Delete(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM session_cache WHERE key = $1`, key)
	return err
}

// CountOlderThan は cutoff より前に更新されたエントリの件数を返します。
func (k *PostgresKV) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := k.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_cache WHERE updated_at < $1`, cutoff).Scan(&n)
	return n, err
}

// PurgeOlderThan は cutoff より前に更新されたエントリを削除し、削除件数を返します。
func (k *PostgresKV) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := k.db.ExecContext(ctx, `DELETE FROM session_cache WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

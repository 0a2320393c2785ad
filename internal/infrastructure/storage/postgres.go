// Package storage implements the repository ports over Postgres.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"contenthub/internal/domain"
	"contenthub/internal/ports"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// ContentStore is the ContentRepository over Postgres.
type ContentStore struct {
	db *sql.DB
}

var _ ports.ContentRepository = (*ContentStore)(nil)

func NewContentStore(db *sql.DB) *ContentStore {
	return &ContentStore{db: db}
}

var contentColumns = []string{
	"id", "source_id", "content_key",
	"original_url", "original_title", "original_body", "original_language", "original_published_at",
	"translated_title", "summary", "why_important",
	"relevance_score", "categories",
	"status", "attempts", "last_error", "digest_id",
	"collected_at", "processed_at",
}

// CreateIfAbsent inserts the item unless its content_key already exists.
// The conflict target makes concurrent collectors converge without errors;
// rows-affected tells the caller whether this run won the insert.
func (s *ContentStore) CreateIfAbsent(ctx context.Context, c domain.Content) (bool, error) {
	query, args, err := psql.Insert("contents").
		Columns(contentColumns...).
		Values(
			c.ID, c.SourceID, c.ContentKey,
			c.OriginalURL, c.OriginalTitle, c.OriginalBody, c.OriginalLanguage, c.OriginalPublishedAt,
			c.TranslatedTitle, c.Summary, c.WhyImportant,
			c.RelevanceScore, pq.Array(c.Categories),
			string(c.Status), c.Attempts, c.LastError, nullString(c.DigestID),
			c.CollectedAt, c.ProcessedAt,
		).
		Suffix("ON CONFLICT (content_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert content: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *ContentStore) GetByID(ctx context.Context, id string) (*domain.Content, error) {
	query, args, err := psql.Select(contentColumns...).
		From("contents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	c, err := scanContent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", id, err)
	}
	return c, nil
}

func (s *ContentStore) ExistsByKey(ctx context.Context, contentKey string) (bool, error) {
	query, args, err := psql.Select("1").
		From("contents").
		Where(sq.Eq{"content_key": contentKey}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check content key: %w", err)
	}
	return true, nil
}

func (s *ContentStore) FindByStatus(ctx context.Context, status domain.ProcessingStatus, limit int) ([]domain.Content, error) {
	builder := psql.Select(contentColumns...).
		From("contents").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("collected_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryContents(ctx, query, args...)
}

func (s *ContentStore) FindForDigest(ctx context.Context) ([]domain.Content, error) {
	query, args, err := psql.Select(contentColumns...).
		From("contents").
		Where(sq.Eq{"status": string(domain.StatusCompleted)}).
		Where("digest_id IS NULL").
		OrderBy("collected_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	return s.queryContents(ctx, query, args...)
}

func (s *ContentStore) Update(ctx context.Context, c domain.Content) error {
	query, args, err := psql.Update("contents").
		Set("translated_title", c.TranslatedTitle).
		Set("summary", c.Summary).
		Set("why_important", c.WhyImportant).
		Set("relevance_score", c.RelevanceScore).
		Set("categories", pq.Array(c.Categories)).
		Set("status", string(c.Status)).
		Set("attempts", c.Attempts).
		Set("last_error", c.LastError).
		Set("processed_at", c.ProcessedAt).
		Where(sq.Eq{"id": c.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update content %s: %w", c.ID, err)
	}
	return nil
}

func (s *ContentStore) MarkIncludedInDigest(ctx context.Context, contentIDs []string, digestID string) error {
	if len(contentIDs) == 0 {
		return nil
	}
	query, args, err := psql.Update("contents").
		Set("digest_id", digestID).
		Where(sq.Eq{"id": contentIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark contents in digest %s: %w", digestID, err)
	}
	return nil
}

func (s *ContentStore) queryContents(ctx context.Context, query string, args ...any) ([]domain.Content, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contents: %w", err)
	}
	defer rows.Close()

	var contents []domain.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, *c)
	}
	return contents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (*domain.Content, error) {
	var (
		c          domain.Content
		digestID   sql.NullString
		categories pq.StringArray
	)
	err := row.Scan(
		&c.ID, &c.SourceID, &c.ContentKey,
		&c.OriginalURL, &c.OriginalTitle, &c.OriginalBody, &c.OriginalLanguage, &c.OriginalPublishedAt,
		&c.TranslatedTitle, &c.Summary, &c.WhyImportant,
		&c.RelevanceScore, &categories,
		&c.Status, &c.Attempts, &c.LastError, &digestID,
		&c.CollectedAt, &c.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Categories = categories
	c.DigestID = digestID.String
	return &c, nil
}

// SourceStore is the SourceRepository over Postgres.
type SourceStore struct {
	db *sql.DB
}

var _ ports.SourceRepository = (*SourceStore)(nil)

func NewSourceStore(db *sql.DB) *SourceStore {
	return &SourceStore{db: db}
}

func (s *SourceStore) FindActive(ctx context.Context) ([]domain.Source, error) {
	query, args, err := psql.Select(
		"id", "name", "type", "url", "config",
		"category", "language", "is_active",
		"last_fetched_at", "failure_count", "created_at", "updated_at",
	).
		From("sources").
		Where(sq.Eq{"is_active": true}).
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		var (
			src       domain.Source
			rawConfig []byte
		)
		err := rows.Scan(
			&src.ID, &src.Name, &src.Type, &src.URL, &rawConfig,
			&src.Category, &src.Language, &src.IsActive,
			&src.LastFetchedAt, &src.FailureCount, &src.CreatedAt, &src.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if len(rawConfig) > 0 {
			if err := decodeSourceConfig(rawConfig, &src); err != nil {
				return nil, fmt.Errorf("source %s config: %w", src.ID, err)
			}
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SourceStore) RecordFetchSuccess(ctx context.Context, sourceID string, at time.Time) error {
	query, args, err := psql.Update("sources").
		Set("last_fetched_at", at).
		Set("failure_count", 0).
		Set("updated_at", at).
		Where(sq.Eq{"id": sourceID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record fetch success for %s: %w", sourceID, err)
	}
	return nil
}

// RecordFetchFailure bumps the streak and deactivates the source in the
// same statement once the threshold is crossed, so there is no window
// where a dead source keeps getting scheduled.
func (s *SourceStore) RecordFetchFailure(ctx context.Context, sourceID string) (bool, error) {
	query, args, err := psql.Update("sources").
		Set("failure_count", sq.Expr("failure_count + 1")).
		Set("is_active", sq.Expr("failure_count + 1 < ?", domain.MaxConsecutiveFailures)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": sourceID}).
		Suffix("RETURNING is_active").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	var stillActive bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stillActive); err != nil {
		return false, fmt.Errorf("record fetch failure for %s: %w", sourceID, err)
	}
	return !stillActive, nil
}

// DigestStore is the DigestRepository over Postgres.
type DigestStore struct {
	db *sql.DB
}

var _ ports.DigestRepository = (*DigestStore)(nil)

func NewDigestStore(db *sql.DB) *DigestStore {
	return &DigestStore{db: db}
}

func (s *DigestStore) CreateIfAbsent(ctx context.Context, d domain.Digest) (bool, error) {
	query, args, err := psql.Insert("digests").
		Columns(
			"id", "subscription_id", "digest_key", "digest_date",
			"content_ids", "channel_id", "status", "error", "message_ts",
			"created_at", "sent_at",
		).
		Values(
			d.ID, d.SubscriptionID, d.DigestKey, d.DigestDate,
			pq.Array(d.ContentIDs), d.ChannelID, string(d.Status), d.Error, d.MessageTS,
			d.CreatedAt, d.SentAt,
		).
		Suffix("ON CONFLICT (digest_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert digest: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *DigestStore) GetByKey(ctx context.Context, digestKey string) (*domain.Digest, error) {
	query, args, err := psql.Select(
		"id", "subscription_id", "digest_key", "digest_date",
		"content_ids", "channel_id", "status", "error", "message_ts",
		"created_at", "sent_at",
	).
		From("digests").
		Where(sq.Eq{"digest_key": digestKey}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var (
		d          domain.Digest
		contentIDs pq.StringArray
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&d.ID, &d.SubscriptionID, &d.DigestKey, &d.DigestDate,
		&contentIDs, &d.ChannelID, &d.Status, &d.Error, &d.MessageTS,
		&d.CreatedAt, &d.SentAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get digest %s: %w", digestKey, err)
	}
	d.ContentIDs = contentIDs
	return &d, nil
}

func (s *DigestStore) UpdateContentIDs(ctx context.Context, digestID string, contentIDs []string) error {
	query, args, err := psql.Update("digests").
		Set("content_ids", pq.Array(contentIDs)).
		Where(sq.Eq{"id": digestID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update digest %s contents: %w", digestID, err)
	}
	return nil
}

func (s *DigestStore) MarkSent(ctx context.Context, digestID, messageTS string, at time.Time) error {
	query, args, err := psql.Update("digests").
		Set("status", string(domain.DigestSent)).
		Set("message_ts", messageTS).
		Set("sent_at", at).
		Set("error", "").
		Where(sq.Eq{"id": digestID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark digest %s sent: %w", digestID, err)
	}
	return nil
}

func (s *DigestStore) MarkFailed(ctx context.Context, digestID, cause string) error {
	query, args, err := psql.Update("digests").
		Set("status", string(domain.DigestFailed)).
		Set("error", cause).
		Where(sq.Eq{"id": digestID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark digest %s failed: %w", digestID, err)
	}
	return nil
}

// SubscriptionStore is the SubscriptionRepository over Postgres.
type SubscriptionStore struct {
	db *sql.DB
}

var _ ports.SubscriptionRepository = (*SubscriptionStore)(nil)

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

var subscriptionColumns = []string{
	"id", "channel_id", "timezone",
	"delivery_time", "categories", "min_relevance", "max_age_days", "max_items", "sort_by", "language",
	"is_active", "created_at", "updated_at",
}

func (s *SubscriptionStore) FindActive(ctx context.Context) ([]domain.Subscription, error) {
	query, args, err := psql.Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return s.querySubscriptions(ctx, query, args...)
}

func (s *SubscriptionStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var (
			sub        domain.Subscription
			categories pq.StringArray
		)
		err := rows.Scan(
			&sub.ID, &sub.ChannelID, &sub.Timezone,
			&sub.Preferences.DeliveryTime, &categories,
			&sub.Preferences.MinRelevance, &sub.Preferences.MaxAgeDays,
			&sub.Preferences.MaxItems, &sub.Preferences.SortBy, &sub.Preferences.Language,
			&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Preferences.Categories = categories
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// decodeSourceConfig parses the jsonb config column.
func decodeSourceConfig(raw []byte, src *domain.Source) error {
	return json.Unmarshal(raw, &src.Config)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

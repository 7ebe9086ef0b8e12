package searchindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/artifactchat/internal/odata"
	"github.com/agentoven/artifactchat/pkg/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresIndex implements contracts.SearchIndex on PostgreSQL. Records are
// stored as jsonb documents with a tsvector-matched content column and an
// optional pgvector column for hybrid queries. OData filters are translated
// to jsonb path predicates.
type PostgresIndex struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgresIndex connects and creates the records table if needed.
func NewPostgresIndex(ctx context.Context, connURL string, dimensions int) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresIndex{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("Postgres search index initialized")
	return s, nil
}

func (s *PostgresIndex) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS ac_records (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			doc        JSONB NOT NULL DEFAULT '{}',
			content    TEXT NOT NULL DEFAULT '',
			vector     vector(%d),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_ac_records_content
			ON ac_records USING GIN (to_tsvector('simple', content));
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresIndex) Kind() string { return "postgres" }

// EnsureCollections is a no-op beyond the migration: jsonb documents carry
// user-declared fields without a schema change.
func (s *PostgresIndex) EnsureCollections(_ context.Context, schema *models.SchemaConfig) error {
	fields := 0
	if schema != nil {
		fields = len(schema.Fields)
	}
	log.Debug().Int("fields", fields).Msg("Postgres search index uses schemaless documents")
	return nil
}

// Upsert merges records into existing rows: jsonb documents are combined
// with ||, so fields absent from the new record survive.
func (s *PostgresIndex) Upsert(ctx context.Context, collection models.Collection, records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO ac_records (collection, id, doc, content, vector) VALUES `)

	args := make([]any, 0, len(records)*5)
	for i, rec := range records {
		id := RecordID(rec)
		if id == "" {
			return fmt.Errorf("record without id in %s", collection)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*5 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d::vector)", base, base+1, base+2, base+3, base+4))

		doc := make(map[string]any, len(rec))
		var vec any
		for k, v := range rec {
			if f, ok := v.([]float64); ok && strings.HasSuffix(k, "contentVector") {
				vec = pgvectorArray(f)
				continue
			}
			doc[k] = v
		}
		args = append(args, string(collection), id, doc, ContentOf(rec), vec)
	}

	sb.WriteString(` ON CONFLICT (collection, id) DO UPDATE SET
		doc = ac_records.doc || EXCLUDED.doc,
		content = EXCLUDED.content,
		vector = COALESCE(EXCLUDED.vector, ac_records.vector),
		updated_at = NOW()`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PostgresIndex) Search(ctx context.Context, collection models.Collection, q models.SearchQuery) (*models.SearchResults, error) {
	args := []any{string(collection)}
	where := []string{"collection = $1"}
	score := "1.0"

	if terms := queryTerms(q.Text); len(terms) > 0 {
		args = append(args, strings.Join(terms, " "))
		ts := fmt.Sprintf("plainto_tsquery('simple', $%d)", len(args))
		where = append(where, "to_tsvector('simple', content) @@ "+ts)
		score = "ts_rank(to_tsvector('simple', content), " + ts + ")"
	}
	if len(q.Vector) > 0 {
		args = append(args, pgvectorArray(q.Vector))
		score += fmt.Sprintf(" + COALESCE(1 - (vector <=> $%d::vector), 0)", len(args))
	}

	node, err := odata.Parse(q.Filter)
	if err != nil {
		return nil, err
	}
	if node != nil {
		clause, filterArgs, err := odata.ToSQL(node, "doc", len(args)+1)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, filterArgs...)
	}

	top := q.Top
	if top <= 0 {
		top = models.MaxTopK
	}
	args = append(args, top)

	query := fmt.Sprintf(`SELECT id, doc, %s AS score, COUNT(*) OVER() AS total
		FROM ac_records
		WHERE %s
		ORDER BY score DESC, id
		LIMIT $%d`, score, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	out := &models.SearchResults{}
	for rows.Next() {
		var (
			id    string
			doc   map[string]any
			score float64
			total int
		)
		if err := rows.Scan(&id, &doc, &score, &total); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out.TotalCount = total
		out.Records = append(out.Records, models.Record{Fields: project(doc, q.Select), Score: score})
	}
	return out, rows.Err()
}

func (s *PostgresIndex) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresIndex) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}

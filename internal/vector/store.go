package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// insertColumns is the number of bind parameters per row in BatchInsert.
const insertColumns = 5

// Store handles vector storage operations with PostgreSQL + pgvector
type Store struct {
	db             *sqlx.DB
	logger         *zap.Logger
	indexThreshold int64
}

// NewStore creates a new vector store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := NewStoreFromDB(db, logger)
	if config.IndexThreshold > 0 {
		store.indexThreshold = config.IndexThreshold
	}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Vector store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// NewStoreFromDB wraps an open connection.
func NewStoreFromDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, indexThreshold: 1000}
}

// initialize checks database connection and ensures pgvector extension
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		s.logger.Warn("Could not create pgvector extension", zap.Error(err))
	}

	var extensionExists bool
	query := "SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')"
	if err := s.db.GetContext(ctx, &extensionExists, query); err != nil {
		return fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extensionExists {
		return fmt.Errorf("pgvector extension is not installed")
	}

	s.logger.Info("Database initialized with pgvector extension")
	return nil
}

// EnsureSchema creates the embeddings table for vectors of width dim.
func (s *Store) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS sentence_embeddings (
			id         BIGSERIAL PRIMARY KEY,
			text       TEXT NOT NULL,
			text_hash  TEXT NOT NULL,
			model      TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (model, text_hash)
		)`, dim)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sentence_embeddings table: %w", err)
	}
	s.logger.Debug("Schema ensured", zap.Int("dimension", dim))
	return nil
}

// Insert adds a new sentence vector to the database
func (s *Store) Insert(ctx context.Context, vector *SentenceVector) error {
	query := `
		INSERT INTO sentence_embeddings (text, text_hash, model, source, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model, text_hash) DO UPDATE SET embedding = EXCLUDED.embedding
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		vector.Text,
		vector.TextHash,
		vector.Model,
		vector.Source,
		pgvector.NewVector(vector.Embedding),
	).Scan(&vector.ID, &vector.CreatedAt)

	if err != nil {
		s.logger.Error("Failed to insert vector",
			zap.Error(err),
			zap.String("model", vector.Model),
			zap.String("source", vector.Source))
		return fmt.Errorf("failed to insert vector: %w", err)
	}

	s.logger.Debug("Vector inserted successfully",
		zap.Int64("id", vector.ID),
		zap.String("model", vector.Model))

	return nil
}

// BatchInsert adds multiple sentence vectors in one statement, skipping duplicates
func (s *Store) BatchInsert(ctx context.Context, vectors []*SentenceVector) (*BatchInsertResult, error) {
	if len(vectors) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	query, args := buildBatchInsert(vectors)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		result.Failed = int64(len(vectors))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(vectors))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(vectors)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func buildBatchInsert(vectors []*SentenceVector) (string, []interface{}) {
	valueStrings := make([]string, 0, len(vectors))
	valueArgs := make([]interface{}, 0, len(vectors)*insertColumns)

	for i, v := range vectors {
		base := i * insertColumns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		valueArgs = append(valueArgs,
			v.Text,
			v.TextHash,
			v.Model,
			v.Source,
			pgvector.NewVector(v.Embedding),
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO sentence_embeddings (text, text_hash, model, source, embedding)
		VALUES %s
		ON CONFLICT (model, text_hash) DO NOTHING`,
		strings.Join(valueStrings, ","))
	return query, valueArgs
}

// FindSimilar finds vectors similar to the given embedding by cosine distance
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, options *SearchOptions) ([]*SimilarityResult, error) {
	if options == nil {
		options = &SearchOptions{
			Limit:         5,
			MinSimilarity: 0.7,
		}
	}
	if options.Limit <= 0 {
		options.Limit = 5
	}

	query, args := buildSimilarityQuery(pgvector.NewVector(embedding), options)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Similarity search failed", zap.Error(err))
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []*SimilarityResult
	for rows.Next() {
		var result SimilarityResult
		var vector SentenceVector
		var stored pgvector.Vector

		err := rows.Scan(
			&vector.ID,
			&vector.Text,
			&vector.TextHash,
			&vector.Model,
			&vector.Source,
			&stored,
			&vector.CreatedAt,
			&result.Similarity,
			&result.Distance,
		)
		if err != nil {
			s.logger.Error("Failed to scan similarity result", zap.Error(err))
			continue
		}

		vector.Embedding = stored.Slice()
		result.Vector = &vector
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	s.logger.Debug("Similarity search completed",
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)),
		zap.Float32("min_similarity", options.MinSimilarity))

	return results, nil
}

func buildSimilarityQuery(query pgvector.Vector, options *SearchOptions) (string, []interface{}) {
	whereClause := "WHERE (1 - (embedding <=> $1)) >= $2"
	args := []interface{}{query, options.MinSimilarity}
	argIndex := 3

	if options.Model != "" {
		whereClause += fmt.Sprintf(" AND model = $%d", argIndex)
		args = append(args, options.Model)
		argIndex++
	}
	if options.Source != "" {
		whereClause += fmt.Sprintf(" AND source = $%d", argIndex)
		args = append(args, options.Source)
		argIndex++
	}

	sql := fmt.Sprintf(`
		SELECT
			id, text, text_hash, model, source, embedding, created_at,
			(1 - (embedding <=> $1)) AS similarity,
			(embedding <=> $1) AS distance
		FROM sentence_embeddings
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, argIndex)

	return sql, append(args, options.Limit)
}

// GetStats returns database statistics
func (s *Store) GetStats(ctx context.Context) (*VectorStats, error) {
	stats := &VectorStats{ByModel: map[string]int64{}}

	query := `SELECT COUNT(*), COUNT(DISTINCT source) FROM sentence_embeddings`
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalVectors, &stats.Sources); err != nil {
		return nil, fmt.Errorf("failed to get vector stats: %w", err)
	}

	var perModel []struct {
		Model string `db:"model"`
		Count int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &perModel,
		`SELECT model, COUNT(*) AS count FROM sentence_embeddings GROUP BY model`); err != nil {
		s.logger.Warn("Failed to get per-model stats", zap.Error(err))
	}
	for _, m := range perModel {
		stats.ByModel[m.Model] = m.Count
	}

	return stats, nil
}

// CreateIndex creates the vector similarity index for better performance
func (s *Store) CreateIndex(ctx context.Context) error {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM sentence_embeddings"); err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	if count < s.indexThreshold {
		s.logger.Info("Skipping index creation, not enough vectors", zap.Int64("count", count))
		return nil
	}

	s.logger.Info("Creating vector similarity index...", zap.Int64("vector_count", count))

	query := `
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_sentence_embeddings_embedding
		ON sentence_embeddings USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	s.logger.Info("Vector similarity index created successfully")
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}

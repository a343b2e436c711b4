package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/versevoice/internal/speech"
)

// PostgresStore persists listener settings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listener_settings (
			listener_id TEXT PRIMARY KEY,
			default_language TEXT NOT NULL,
			display_mode TEXT NOT NULL,
			secondary_language TEXT NOT NULL,
			rate DOUBLE PRECISION NOT NULL,
			pitch DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			voice_overrides JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, listenerID string) (Settings, error) {
	var (
		st        Settings
		overrides []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT listener_id, default_language, display_mode, secondary_language,
		        rate, pitch, volume, voice_overrides, updated_at
		 FROM listener_settings WHERE listener_id=$1`,
		listenerID,
	).Scan(
		&st.ListenerID,
		&st.DefaultLanguage,
		&st.DisplayMode,
		&st.SecondaryLanguage,
		&st.Rate,
		&st.Pitch,
		&st.Volume,
		&overrides,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Defaults(listenerID), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &st.VoiceOverrides); err != nil {
			return Settings{}, fmt.Errorf("decode voice overrides: %w", err)
		}
	}
	return st, nil
}

func (s *PostgresStore) Put(ctx context.Context, st Settings) (Settings, error) {
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	if st.VoiceOverrides == nil {
		st.VoiceOverrides = map[speech.Language]string{}
	}
	overrides, err := json.Marshal(st.VoiceOverrides)
	if err != nil {
		return Settings{}, fmt.Errorf("encode voice overrides: %w", err)
	}
	st.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO listener_settings
		   (listener_id, default_language, display_mode, secondary_language, rate, pitch, volume, voice_overrides, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (listener_id) DO UPDATE SET
		   default_language=EXCLUDED.default_language,
		   display_mode=EXCLUDED.display_mode,
		   secondary_language=EXCLUDED.secondary_language,
		   rate=EXCLUDED.rate,
		   pitch=EXCLUDED.pitch,
		   volume=EXCLUDED.volume,
		   voice_overrides=EXCLUDED.voice_overrides,
		   updated_at=EXCLUDED.updated_at`,
		st.ListenerID,
		string(st.DefaultLanguage),
		string(st.DisplayMode),
		string(st.SecondaryLanguage),
		st.Rate,
		st.Pitch,
		st.Volume,
		overrides,
		st.UpdatedAt,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

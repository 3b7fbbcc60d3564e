package db

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// scheduled_events and user_blocks belong to other services; they are created
// here only so a fresh database can serve discovery.
func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS crews (
            id SERIAL PRIMARY KEY,
            wave_id INT,
            creator_id INT NOT NULL,
            activity_type TEXT NOT NULL,
            area TEXT NOT NULL,
            thought TEXT,
            location_name TEXT,
            scheduled_for TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS waves (
            id SERIAL PRIMARY KEY,
            creator_id INT NOT NULL,
            activity_type TEXT NOT NULL,
            area VARCHAR(200) NOT NULL,
            thought VARCHAR(140),
            location_name VARCHAR(300),
            latitude DOUBLE PRECISION CHECK (latitude BETWEEN -90 AND 90),
            longitude DOUBLE PRECISION CHECK (longitude BETWEEN -180 AND 180),
            scheduled_for TIMESTAMPTZ,
            threshold INT NOT NULL CHECK (threshold >= 1),
            is_unlocked BOOLEAN NOT NULL DEFAULT FALSE,
            crew_id INT REFERENCES crews(id),
            started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            expires_at TIMESTAMPTZ NOT NULL,
            CHECK (expires_at > started_at),
            CHECK (is_unlocked = (crew_id IS NOT NULL))
        );`,
		`CREATE INDEX IF NOT EXISTS waves_expires_at_idx ON waves (expires_at);`,
		`CREATE INDEX IF NOT EXISTS waves_started_at_idx ON waves (started_at DESC);`,
		`CREATE TABLE IF NOT EXISTS wave_participants (
            wave_id INT NOT NULL REFERENCES waves(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (wave_id, user_id)
        );`,
		`DO $$ BEGIN
            ALTER TABLE crews ADD CONSTRAINT crews_wave_fk
                FOREIGN KEY (wave_id) REFERENCES waves(id) ON DELETE SET NULL;
        EXCEPTION WHEN duplicate_object THEN NULL;
        END $$;`,
		`CREATE UNIQUE INDEX IF NOT EXISTS crews_wave_id_key ON crews (wave_id) WHERE wave_id IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS crew_members (
            crew_id INT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (crew_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS crew_messages (
            id SERIAL PRIMARY KEY,
            crew_id INT NOT NULL REFERENCES crews(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content VARCHAR(500) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS crew_messages_crew_idx ON crew_messages (crew_id, created_at, id);`,
		`CREATE TABLE IF NOT EXISTS user_blocks (
            blocker_id INT NOT NULL,
            blocked_id INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY (blocker_id, blocked_id)
        );`,
		`CREATE TABLE IF NOT EXISTS scheduled_events (
            id SERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            category TEXT NOT NULL,
            latitude DOUBLE PRECISION,
            longitude DOUBLE PRECISION,
            starts_at TIMESTAMPTZ,
            ends_at TIMESTAMPTZ,
            attendee_count INT NOT NULL DEFAULT 0,
            is_published BOOLEAN NOT NULL DEFAULT TRUE
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	logrus.Info("database migrations applied")
	return nil
}

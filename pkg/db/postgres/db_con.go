package postgres

import (
	"fmt"
	"time"

	"github.com/amankumarsingh77/media-downloader/internal/config"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	maxOpenConns    = 60
	connMaxLifetime = 120 * time.Second
	maxIdleConns    = 30
	connMaxIdleTime = 20 * time.Second
)

func NewPsqlDB(c *config.Config) (*sqlx.DB, error) {
	if c.Postgres.PgDriver == "" {
		c.Postgres.PgDriver = "pgx"
	}
	sslMode := c.Postgres.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	dataSourceName := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s password=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Name,
		sslMode,
		c.Postgres.Password,
	)
	db, err := sqlx.Connect(c.Postgres.PgDriver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

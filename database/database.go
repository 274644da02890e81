package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"

	"storefront/config"
)

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := mysql.NewConfig()
	dsn.User = cfg.DB.User
	dsn.Passwd = cfg.DB.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.DB.Host, cfg.DB.Port)
	dsn.DBName = cfg.DB.Name
	dsn.ParseTime = true

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS local_storage (
	k          VARCHAR(191) NOT NULL PRIMARY KEY,
	v          MEDIUMTEXT   NOT NULL,
	updated_at DATETIME     NOT NULL
)`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"tracktally/config"
	"tracktally/core/utils"
)

// DB wraps *sql.DB with the driver name so stores can write queries with
// `?` placeholders and have them rebound for postgres.
type DB struct {
	*sql.DB
	driver string
}

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	driver := strings.TrimSpace(cfg.DBDriver)
	if driver == "" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if logger != nil {
		logger.Printf("database opened driver=%s", driver)
	}
	return &DB{DB: db, driver: driver}, nil
}

func (d *DB) IsPostgres() bool {
	return d != nil && d.driver == "pgx"
}

// Rebind converts `?` placeholders to `$1..$n` for the postgres driver.
func (d *DB) Rebind(query string) string {
	if !d.IsPostgres() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

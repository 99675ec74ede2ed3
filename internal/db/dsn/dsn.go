// Package dsn provides Data Source Name construction utilities for database connections.
package dsn

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bitu-idm/dirsync/internal/config"
)

// Create builds the Data Source Name for the configured engine.
func Create(db config.DB) string {
	switch db.GormEngine {
	case "postgres":
		out := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
			db.Host,
			db.Port,
			db.User,
			db.Password,
			db.Name,
		)
		if db.Extras != "" {
			out += " " + db.Extras
		}

		return out
	case "sqlite":
		if db.Extras != "" {
			return db.Name + "?" + db.Extras
		}

		return db.Name
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		db.User,
		db.Password,
		db.Host,
		db.Port,
		db.Name,
		db.Extras,
	)
}

// Dialector returns the gorm dialector for the configured engine.
func Dialector(db config.DB) (gorm.Dialector, error) {
	switch db.GormEngine {
	case "mysql", "":
		return mysql.Open(Create(db)), nil
	case "postgres":
		return postgres.Open(Create(db)), nil
	case "sqlite":
		return sqlite.Open(Create(db)), nil
	}

	return nil, fmt.Errorf("%w: %s", config.ErrUnsupportedGormEngine, db.GormEngine)
}

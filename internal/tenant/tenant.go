// Package tenant opens connections to tenant databases from the (url,
// token) credentials the registry hands out.
package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
)

// Opener turns registry credentials into a live database handle. The
// orchestrator owns a single Opener; tests substitute one that maps URLs to
// local files.
type Opener interface {
	Open(ctx context.Context, dbURL, token string) (*sql.DB, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, dbURL, token string) (*sql.DB, error)

func (f OpenerFunc) Open(ctx context.Context, dbURL, token string) (*sql.DB, error) {
	return f(ctx, dbURL, token)
}

// DSN appends the access token to a database URL as the authToken query
// parameter, the convention remote SQLite drivers use.
func DSN(dbURL, token string) string {
	if token == "" {
		return dbURL
	}
	sep := "?"
	if u, err := url.Parse(dbURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return dbURL + sep + "authToken=" + url.QueryEscape(token)
}

// DriverOpener opens tenant databases through database/sql with a
// configurable driver.
type DriverOpener struct {
	Driver string
}

func (o DriverOpener) Open(ctx context.Context, dbURL, token string) (*sql.DB, error) {
	driver := o.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, DSN(dbURL, token))
	if err != nil {
		return nil, fmt.Errorf("opening tenant database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging tenant database: %w", err)
	}
	return db, nil
}

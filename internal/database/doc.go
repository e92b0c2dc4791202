// Package database opens the PostgreSQL pool backing the session journal.
package database

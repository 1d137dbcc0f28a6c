// Package database provides the PostgreSQL connection pool backing the
// message journal.
package database

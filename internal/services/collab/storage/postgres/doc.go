// Package postgres implements the collab room and event log stores on
// PostgreSQL through a pgx connection pool. Element snapshots and record
// contents use the json column type so client bytes survive unchanged.
package postgres

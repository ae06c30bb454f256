// Package sqlite implements the collab room and event log stores on SQLite.
package sqlite

// Package postgres implements the store interfaces against PostgreSQL.
// Every guarded state transition is a single conditional UPDATE so that
// concurrent workers coordinate entirely through the database's
// atomicity; no transition is ever decided in process memory.
package postgres

// Package migrations generates migration definition stubs: Go source files
// that register a named Definition with upgrade and downgrade hooks, plus
// the SQL bootstrap for the registry tables on PostgreSQL, MySQL/MariaDB,
// and SQLite databases.
package migrations

// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package migration manages the run-history database schema with
golang-migrate.

The SQL files for each supported dialect (PostgreSQL, MySQL, SQLite)
are embedded into the binary, so a deployment migrates itself without
shipping loose files. The migrations create the workflow_runs table
used by the SQL history store and the workflow_run_nodes table that
holds one row per node outcome for reporting queries.

Migrator is the operation set (Up, Down, DownAll, Steps, Goto, Force,
Version, Status, Info); DefaultMigrator implements it on a
golang-migrate instance. CLI wraps a Migrator with formatted terminal
output for the migrate subcommand. Factories build a migrator from the
application configuration or from a raw database URL.

SQLite is opened through whatever driver the process has registered
under the database/sql name "sqlite". The server binary registers a
pure-Go one through its GORM dialector; tests register
modernc.org/sqlite.
*/
package migration

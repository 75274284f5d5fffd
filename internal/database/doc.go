// Copyright (c) CanvasFlow Authors.
// Licensed under the MIT License.

/*
Package database opens the shared GORM connection and manages its
connection pool.

Open maps the configured driver to a GORM dialector (PostgreSQL,
MySQL, or a pure-Go SQLite build) and connects using the DSN assembled
by the config package. PoolManager then applies the pool limits from
DatabaseConfig, pings the database on a fixed interval, and hands each
statistics snapshot to an optional observer; the command layer uses
that hook to export connection gauges.

WithTransaction runs a function inside a single transaction.
WithTransactionRetry adds exponential backoff for transient failures
such as deadlocks, serialization errors, and dropped connections.
*/
package database

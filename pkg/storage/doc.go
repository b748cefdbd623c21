// Package storage provides the GORM-backed implementation of core.Store.
//
// GormStorage runs on SQLite and PostgreSQL. Claims are made with a
// per-row conditional UPDATE inside a transaction; on PostgreSQL the
// candidate scan additionally uses FOR UPDATE SKIP LOCKED so concurrent
// dispatchers do not contend on the same rows.
//
// Open builds a *gorm.DB for either driver with the pool configured.
package storage

//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based client.Storage.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits front ends that share one session across several processes.
//
// # Database Schema
//
// The package auto-migrates one table:
//   - session_values: (namespace, key) -> value, one row per stored key
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	storage, _ := gormstore.New(db, "tenant-web")
//	auth := client.NewAuthenticator(apiURL, storage)
package gorm

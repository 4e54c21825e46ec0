//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore client.Storage.
// It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - SessionValue: one entity per stored key, keyed by the session key name
//
// # Usage
//
//	dsClient, _ := datastore.NewClient(ctx, projectID)
//	storage := gae.New(dsClient, "tenant-web")
//	auth := client.NewAuthenticator(apiURL, storage)
package gae

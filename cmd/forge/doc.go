// Package cmd/forge provides the global Forge framework CLI.
//
// Install once globally:
//
//	go install github.com/lalaz-foundation/forge/cmd/forge@latest
//
// Then from ANY project directory that uses the Forge framework:
//
//	forge serve           # start server
//	forge migrate         # run migrations
//	forge migrate:rollback
//	forge migrate:status
//	forge seed            # seed data
//	forge route:list      # list API routes
//
// The CLI detects whether it is running:
//
//	a) Inside the forge framework repo itself → uses direct Go imports
//	b) Inside a user project → delegates to `go run . <command>`
//
// User projects just need this in their main.go:
//
//	import "github.com/lalaz-foundation/forge/pkg/app"
//	func main() { app.Run() }
package main

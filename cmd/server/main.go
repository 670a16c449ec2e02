// cmd/server/main.go is the entry point for the framework repository's own
// binary: it serves the admin API (queue statistics, dead-letter
// management, event administration) defined under app/.
//
// User projects replace this with their own main:
//
//	package main
//
//	import (
//	    "github.com/lalaz-foundation/forge/pkg/app"
//	    _ "yourproject/database/migrations"
//	    _ "yourproject/database/seeders"
//	)
//
//	func main() {
//	    app.New().Routes(myRoutes).AutoMigrate(&User{}).Run()
//	}
package main

import (
	"log"

	"github.com/lalaz-foundation/forge/app/models"
	"github.com/lalaz-foundation/forge/app/routes"
	"github.com/lalaz-foundation/forge/pkg/app"

	_ "github.com/lalaz-foundation/forge/database/migrations"
)

func main() {
	if err := runApp(); err != nil {
		log.Fatal(err)
	}
}

func runApp() error {
	done := make(chan error, 1)
	go func() {
		// app.New().Run() calls os.Exit on error, so we wrap it.
		app.New().
			Routes(routes.RegisterAPI).
			AutoMigrate(&models.User{}).
			Run()
		done <- nil
	}()
	return <-done
}

//go:build !with_auth

package main

import (
	"log"
)

func main() {
	log.Println("Starting Locomotiv API server...")

	s := setup()

	app := newApp("Locomotiv API")
	app.Get("/health", s.handler.Health)
	s.handler.Register(app.Group("/v1"))
	app.Use(notFound)

	s.run(app)
}

//go:build with_auth

package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/locomotiv/locomotiv_core/internal/middleware"
)

func main() {
	log.Println("Starting Locomotiv API server...")

	s := setup()

	enableAuth := getEnvBool("ENABLE_AUTH", true)
	enableRateLimit := getEnvBool("ENABLE_RATE_LIMIT", true)
	log.Printf("Configuration: Auth=%v, RateLimit=%v", enableAuth, enableRateLimit)

	app := newApp("Locomotiv API")

	// ============================================
	// Public Routes (no authentication required)
	// ============================================
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":   "Locomotiv Core API",
			"status": "operational",
			"authentication": fiber.Map{
				"enabled": enableAuth,
				"type":    "Bearer Token (operator key)",
				"format":  "Authorization: Bearer " + middleware.KeyPrefix + "live_...",
			},
		})
	})
	app.Get("/health", s.handler.Health)

	// ============================================
	// API V1 - Protected Routes
	// ============================================
	v1 := app.Group("/v1")

	if enableAuth {
		v1.Use(middleware.AuthMiddleware(s.repo))
		log.Println("✓ Authentication middleware enabled")
	} else {
		v1.Use(middleware.OptionalAuth(s.repo))
	}

	if enableRateLimit {
		limits := middleware.DefaultRateLimits
		limits.PerDay = getEnvInt("RATE_LIMIT_PER_DAY", limits.PerDay)
		v1.Use(middleware.RateLimitMiddleware(s.rdb, limits))
		log.Println("✓ Rate limiting middleware enabled")
	}

	s.handler.Register(v1)
	app.Use(notFound)

	s.run(app)
}

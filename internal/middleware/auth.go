package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/locomotiv/locomotiv_core/internal/models"
)

// KeyPrefix starts every operator key
const KeyPrefix = "ok_"

// OperatorKeys looks up operator keys by hash
type OperatorKeys interface {
	FindOperatorKey(ctx context.Context, keyHash string) (*models.OperatorKey, error)
	TouchOperatorKey(ctx context.Context, id string) error
}

// OperatorContext holds the authenticated operator for the request
type OperatorContext struct {
	KeyID              string
	Name               string
	RateLimitPerSecond int
}

// HashKey returns the hex SHA-256 under which a key is stored
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Operator returns the operator stored by AuthMiddleware, if any
func Operator(c *fiber.Ctx) (*OperatorContext, bool) {
	op, ok := c.Locals("operator").(*OperatorContext)
	return op, ok
}

// AuthMiddleware validates the operator key and loads the operator
func AuthMiddleware(keys OperatorKeys) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "missing_operator_key",
				"message": "Operator key is required. Use Authorization: Bearer YOUR_KEY",
			})
		}

		// Format: "Bearer ok_live_..."
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer YOUR_KEY",
				"example": "Authorization: Bearer ok_live_abc123...",
			})
		}

		key := strings.TrimSpace(parts[1])
		if !strings.HasPrefix(key, KeyPrefix) {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_operator_key_format",
				"message": "Operator key must start with " + KeyPrefix,
			})
		}

		found, err := keys.FindOperatorKey(c.Context(), HashKey(key))
		if err != nil {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_operator_key",
				"message": "The provided key is invalid, expired, or has been revoked",
			})
		}

		go touch(keys, found.ID)

		c.Locals("operator", &OperatorContext{
			KeyID:              found.ID,
			Name:               found.Name,
			RateLimitPerSecond: found.RateLimitPerSecond,
		})

		return c.Next()
	}
}

// touch updates last_used_at off the request path
func touch(keys OperatorKeys, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := keys.TouchOperatorKey(ctx, id); err != nil {
		log.Printf("Warning: %v", err)
	}
}

// OptionalAuth is like AuthMiddleware but lets anonymous requests through
func OptionalAuth(keys OperatorKeys) fiber.Handler {
	auth := AuthMiddleware(keys)
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Next()
		}
		return auth(c)
	}
}

package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/locomotiv/locomotiv_core/internal/db"
	"github.com/locomotiv/locomotiv_core/internal/middleware"
)

func main() {
	env := flag.String("env", "test", "Environment: test or live")
	name := flag.String("name", "", "Operator name (required with -insert)")
	rate := flag.Int("rate", 10, "Requests per second allowed for this key")
	insert := flag.Bool("insert", false, "Store the key hash in the database")
	flag.Parse()

	if *env != "test" && *env != "live" {
		fmt.Println("Error: env must be 'test' or 'live'")
		os.Exit(1)
	}
	if *insert && *name == "" {
		fmt.Println("Error: -name is required with -insert")
		os.Exit(1)
	}

	key, hash := generateOperatorKey(*env)

	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("🔑 Operator Key Generated")
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Printf("Environment:  %s\n", *env)
	fmt.Printf("\nOperator key (show ONLY ONCE):\n%s\n", key)
	fmt.Printf("\nHash (store in database):\n%s\n", hash)
	fmt.Println("═══════════════════════════════════════════════════")
	fmt.Println("\n⚠️  Save the key now! You won't be able to see it again.")

	if !*insert {
		fmt.Println("\nTo insert into database:")
		fmt.Printf("INSERT INTO operator_key (id, name, key_hash, rate_limit_per_second)\n")
		fmt.Printf("VALUES (gen_random_uuid(), 'Operator Name', '%s', %d);\n", hash, *rate)
		fmt.Println("═══════════════════════════════════════════════════")
		return
	}

	_ = godotenv.Load()
	pool, err := db.GetDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	id, err := db.NewRepository(pool).CreateOperatorKey(context.Background(), *name, hash, *rate)
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("✅ Stored key %s for %s\n", id, *name)
}

// generateOperatorKey returns a new key and the hash it is stored under
func generateOperatorKey(env string) (key, hash string) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}
	randomStr := hex.EncodeToString(randomBytes)

	// checksum: first 2 bytes of the random part's hash
	checksumBytes := sha256.Sum256([]byte(randomStr))
	checksum := hex.EncodeToString(checksumBytes[:2])

	key = fmt.Sprintf("%s%s_%s_%s", middleware.KeyPrefix, env, randomStr, checksum)
	return key, middleware.HashKey(key)
}

package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

var yardTables = []string{
	"station",
	"train",
	"block_point",
	"block",
	"block_point_link",
	"predefined_route",
	"station_train",
	"operator_key",
}

func main() {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"), os.Getenv("DB_SSLMODE"))
	}

	fmt.Println("🔗 Testing database connection...")
	fmt.Printf("   Host: %s:%s\n", os.Getenv("DB_HOST"), os.Getenv("DB_PORT"))
	fmt.Printf("   Database: %s\n\n", os.Getenv("DB_NAME"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("❌ Failed to create connection: %v\n", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("❌ Failed to ping database: %v\n", err)
	}
	fmt.Println("✅ Connection successful!")

	var pgVersion string
	if err := db.QueryRow("SELECT version()").Scan(&pgVersion); err != nil {
		log.Printf("⚠️  Could not get PostgreSQL version: %v\n", err)
	} else {
		fmt.Printf("\n📊 PostgreSQL Version:\n   %s\n", pgVersion)
	}

	fmt.Println("\n📋 Checking yard tables...")
	missing := 0
	for _, table := range yardTables {
		var present bool
		err := db.QueryRow("SELECT to_regclass('public.' || $1) IS NOT NULL", table).Scan(&present)
		if err != nil {
			log.Printf("⚠️  Could not check %s: %v\n", table, err)
			continue
		}
		if !present {
			fmt.Printf("   - %s (missing)\n", table)
			missing++
			continue
		}

		var rows int
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&rows); err != nil {
			fmt.Printf("   - %s\n", table)
			continue
		}
		fmt.Printf("   - %s: %d rows\n", table, rows)
	}

	if missing > 0 {
		fmt.Printf("\n   %d tables missing - run the importer with --ensure-schema\n", missing)
		os.Exit(1)
	}

	fmt.Println("\n✅ Connection test completed successfully!")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/locomotiv/locomotiv_core/internal/db"
	"github.com/locomotiv/locomotiv_core/internal/fixtures"
	"github.com/locomotiv/locomotiv_core/internal/models"
)

func main() {
	layoutPath := flag.String("layout", "", "Path to a layout directory or ZIP file (default: built-in layout)")
	ensureSchema := flag.Bool("ensure-schema", true, "Create the yard tables before importing")
	dryRun := flag.Bool("dry-run", false, "Parse and validate only, do not write to the database")

	flag.Parse()

	if *layoutPath != "" {
		if _, err := os.Stat(*layoutPath); os.IsNotExist(err) {
			fmt.Println("Usage: locomotiv-import [--layout=<dir|file.zip>] [--ensure-schema] [--dry-run]")
			flag.PrintDefaults()
			log.Fatalf("Layout not found: %s", *layoutPath)
		}
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	startTime := time.Now()

	log.Println("Step 1/3: Parsing layout...")
	layout, err := readLayout(*layoutPath)
	if err != nil {
		log.Fatalf("Failed to parse layout: %v", err)
	}

	log.Printf("Step 2/3: Validated %d stations, %d trains, %d block points, %d blocks, %d routes",
		len(layout.Stations), len(layout.Trains), len(layout.Points), len(layout.Blocks), len(layout.Routes))

	if *dryRun {
		log.Println("Step 3/3: Skipping database write (--dry-run)")
		return
	}

	if err := runImport(context.Background(), layout, *ensureSchema); err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	log.Printf("Import completed in %s", time.Since(startTime))
}

func readLayout(path string) (*models.Layout, error) {
	if path == "" {
		log.Println("Using built-in layout")
		return fixtures.Default()
	}
	log.Printf("Layout: %s", path)
	return fixtures.LoadPath(path)
}

func runImport(ctx context.Context, layout *models.Layout, ensureSchema bool) error {
	pool, err := db.GetDB()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	repo := db.NewRepository(pool)
	if ensureSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	log.Println("Step 3/3: Writing layout to database...")
	if err := repo.SaveLayout(ctx, layout); err != nil {
		return err
	}

	if err := db.HealthCheck(ctx); err != nil {
		log.Printf("Warning: %v", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildingai/buildingai/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("buildingai-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	files, err := migrationFiles(migrationsDir, os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	runMigrations(ctx, pool, files)
}

// migrationFiles lists the files for a direction: "up" applies every
// NNN_name.sql in order, "down" applies every NNN_name.down.sql in reverse.
func migrationFiles(dir, direction string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(all)

	var files []string
	switch direction {
	case "up":
		for _, f := range all {
			if !strings.HasSuffix(f, ".down.sql") {
				files = append(files, f)
			}
		}
	case "down":
		for i := len(all) - 1; i >= 0; i-- {
			if strings.HasSuffix(all[i], ".down.sql") {
				files = append(files, all[i])
			}
		}
	default:
		return nil, fmt.Errorf("unknown command: %s", direction)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s migrations found in %s", direction, dir)
	}
	return files, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, files []string) {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}

		_, err = pool.Exec(ctx, string(data))
		if err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}

		fmt.Printf("OK  %s\n", f)
	}

	log.Println("all migrations applied")
}

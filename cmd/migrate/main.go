package main

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/smart-import/internal/datanorm"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		if err := listTables(db); err != nil {
			log.Fatal(err)
		}
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		log.Fatalf("read migrations dir %s: %v", dir, err)
	}

	res, err := applyMigrations(db, dir, files, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Done: %d applied, %d already applied, %d errors", res.applied, res.skipped, res.failed)
	if res.failed > 0 {
		os.Exit(1)
	}
	log.Println("Migrations complete")
}

const createVersionsSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type migrateResult struct {
	applied, skipped, failed int
}

// applyMigrations runs each file not yet recorded in schema_migrations in
// its own transaction, recording the version in the same transaction.
func applyMigrations(db *sql.DB, dir string, files []string, out io.Writer) (migrateResult, error) {
	var res migrateResult
	if _, err := db.Exec(createVersionsSQL); err != nil {
		return res, fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(db)
	if err != nil {
		return res, err
	}

	for _, f := range files {
		if done[f] {
			res.skipped++
			continue
		}
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return res, fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		if strings.TrimSpace(content) == "" {
			continue
		}
		fmt.Fprintf(out, "  %s ... ", f)

		tx, err := db.Begin()
		if err != nil {
			fmt.Fprintf(out, "BEGIN ERROR: %v\n", err)
			res.failed++
			continue
		}
		if _, err := tx.Exec(content); err != nil {
			tx.Rollback()
			fmt.Fprintf(out, "ERROR: %v\n", err)
			res.failed++
			continue
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", f); err != nil {
			tx.Rollback()
			fmt.Fprintf(out, "RECORD ERROR: %v\n", err)
			res.failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			fmt.Fprintf(out, "COMMIT ERROR: %v\n", err)
			res.failed++
			continue
		}
		fmt.Fprintln(out, "OK")
		res.applied++
	}
	return res, nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	done := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

// migrationFiles returns the *.sql files of dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// importTables lists every table the record store writes to.
func importTables() []string {
	return append([]string{datanorm.DailyTable}, datanorm.EntityTables()...)
}

func listTables(db *sql.DB) error {
	rows, err := db.Query(
		"SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename = ANY($1) ORDER BY tablename",
		pq.Array(importTables()))
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d of %d tables\n", n, len(importTables()))
	return rows.Err()
}

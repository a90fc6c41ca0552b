package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/conarylabs/conary/pkg/config"
	"github.com/conarylabs/conary/pkg/storage"
)

var (
	dbRoot     = flag.String("db-root", config.DefaultDBRoot, "Conary metadata/CAS root directory")
	dryRun     = flag.Bool("dry-run", false, "Report the current and target schema version without migrating")
	backupPath = flag.String("backup", "", "Path to back up conary.db before migrating (default: <db-root>/conary.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Conary Database Migration Tool")
	log.Println("===============================")

	dbPath := (&config.Config{DBRoot: *dbRoot}).DBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	version, dirty, err := storage.MigrationStatus(dbPath)
	if err != nil {
		log.Fatalf("Failed to read schema version: %v", err)
	}
	if dirty {
		log.Fatalf("Schema version %d was left dirty by a previous migration; restore from backup before retrying", version)
	}
	log.Printf("Current schema version: %d", version)

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to apply pending migrations.")
		return
	}

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	if err := copyFile(dbPath, backupFile); err != nil {
		log.Fatalf("Failed to create backup: %v", err)
	}
	log.Println("Backup created successfully")

	if err := storage.Migrate(dbPath); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	newVersion, _, err := storage.MigrationStatus(dbPath)
	if err != nil {
		log.Fatalf("Migration applied but failed to confirm schema version: %v", err)
	}

	if newVersion == version {
		log.Println("\nDatabase was already at the latest schema version")
		return
	}
	log.Printf("\nMigration completed successfully: schema %d -> %d", version, newVersion)
	log.Printf("Backup retained at %s in case a rollback is needed.", backupFile)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gao-dev/devstate/internal/config"
	"github.com/gao-dev/devstate/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the state engine in the current project",
	Long: `Initialize the state engine by creating a .gao-dev/ directory with the
state database.

This creates:
  - .gao-dev/ directory
  - .gao-dev/documents.db (SQLite database, schema applied)
  - .gitignore entries for the database sidecar files

Example:
  cd ~/myproject
  devstate init`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(rootDir)
		if err != nil {
			fatal(err)
		}

		dbPath := cfg.DatabasePath(rootDir)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			fatal(fmt.Errorf("failed to create state directory: %w", err))
		}

		log := logrus.New()
		log.SetLevel(logrus.WarnLevel)
		store, err := storage.Open(dbPath, log)
		if err != nil {
			fatal(err)
		}
		_ = store.Close()

		if err := ensureGitignore(rootDir); err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Initialized state engine\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(dbPath))
		fmt.Printf("  Project root: %s\n", cyan(rootDir))
		fmt.Println()
	},
}

// gitignoreEntries keeps the database and its sidecar files out of the
// working tree so state writes never dirty it.
var gitignoreEntries = []string{
	".gao-dev/*.db",
	".gao-dev/*.db-shm",
	".gao-dev/*.db-wal",
}

func ensureGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}

	content := string(existing)
	var missing []string
	for _, entry := range gitignoreEntries {
		found := false
		for _, line := range strings.Split(content, "\n") {
			if strings.TrimSpace(line) == entry {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}

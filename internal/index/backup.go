package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// backupTimeLayout produces sortable backup file names.
const backupTimeLayout = "20060102T150405.000"

// BackupBeforeSave copies the current index file (and its .meta sidecar)
// into a backups/ directory next to it before the file is overwritten,
// keeping only the newest keep backups. A missing index file is not an
// error; there is nothing to protect yet.
func BackupBeforeSave(path string, keep int) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	dir := filepath.Join(filepath.Dir(path), "backups")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	ext := filepath.Ext(path)
	stamp := time.Now().UTC().Format(backupTimeLayout)
	backupPath := filepath.Join(dir, fmt.Sprintf("index_backup_%s%s", stamp, ext))

	if err := copyFile(path, backupPath); err != nil {
		return fmt.Errorf("backing up index: %w", err)
	}
	if _, err := os.Stat(path + ".meta"); err == nil {
		if err := copyFile(path+".meta", backupPath+".meta"); err != nil {
			return fmt.Errorf("backing up index metadata: %w", err)
		}
	}

	return pruneBackups(dir, ext, keep)
}

// pruneBackups removes the oldest backups beyond keep. Backup names embed
// a sortable timestamp, so lexical order is chronological order.
func pruneBackups(dir, ext string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing backup directory: %w", err)
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "index_backup_") && strings.HasSuffix(name, ext) {
			backups = append(backups, name)
		}
	}
	if len(backups) <= keep {
		return nil
	}

	sort.Strings(backups)
	for _, name := range backups[:len(backups)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
		_ = os.Remove(filepath.Join(dir, name+".meta"))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // paths derive from trusted config
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // paths derive from trusted config
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DirName is the data root directory created in the user's home.
const DirName = ".accountd"

// Paths is the directory layout under one data root.
type Paths struct {
	Root        string
	TempFiles   string
	Themes      string
	Fonts       string
	Extensions  string
	CrashLogs   string
	Recordings  string
	AccountRoot string
	StorageRoot string
	DebugLog    string
}

// DefaultRoot returns ~/.accountd.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// NewPaths lays out the directories under root.
func NewPaths(root string) Paths {
	account := filepath.Join(root, ".user")
	return Paths{
		Root:        root,
		TempFiles:   filepath.Join(root, "temp_files"),
		Themes:      filepath.Join(root, "themes"),
		Fonts:       filepath.Join(root, "fonts"),
		Extensions:  filepath.Join(root, "extensions"),
		CrashLogs:   filepath.Join(root, "crash-logs"),
		Recordings:  filepath.Join(root, "recordings"),
		AccountRoot: account,
		StorageRoot: filepath.Join(account, "warp"),
		DebugLog:    filepath.Join(account, "debug.log"),
	}
}

// Ensure creates every directory of the layout.
func (p Paths) Ensure() error {
	for _, dir := range []string{
		p.Root, p.TempFiles, p.Themes, p.Fonts, p.Extensions,
		p.CrashLogs, p.Recordings, p.AccountRoot, p.StorageRoot,
	} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// CleanTempFiles empties the temporary files directory. It is called on
// every start.
func (p Paths) CleanTempFiles() error {
	entries, err := os.ReadDir(p.TempFiles)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read temp files: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(p.TempFiles, e.Name())); err != nil {
			return fmt.Errorf("remove temp file: %w", err)
		}
		removed++
	}

	logrus.WithFields(logrus.Fields{
		"function": "CleanTempFiles",
		"dir":      p.TempFiles,
		"removed":  removed,
	}).Debug("Temporary files cleaned")
	return nil
}

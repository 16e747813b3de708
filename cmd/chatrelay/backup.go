package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatrelay/internal/config"

	"github.com/spf13/cobra"
)

const uploadsPrefix = "uploads/"

// backupFile is a file on disk and its name inside the archive.
type backupFile struct {
	path string
	name string
}

// backupPaths are the on-disk locations a backup reads from and restores to.
type backupPaths struct {
	config  string
	index   string
	uploads string
}

func resolveBackupPaths() backupPaths {
	cfgPath := resolveConfigPath()
	p := backupPaths{config: cfgPath}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
		cfg.Attachments.IndexPath = config.ExpandPath(cfg.Attachments.IndexPath)
	}
	p.index = cfg.Attachments.IndexPath
	p.uploads = cfg.Attachments.UploadsDir
	return p
}

func backupCmd() *cobra.Command {
	var outputPath string
	var withUploads bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of chatrelay data (config, attachment index, uploads)",
		Long: `Creates a compressed .tar.gz archive containing the config file, the
attachment index database and, with --uploads, the stored attachments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := resolveBackupPaths()

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("chatrelay-backup-%s.tar.gz", ts))
			}

			var files []backupFile
			if _, err := os.Stat(paths.config); err == nil {
				files = append(files, backupFile{path: paths.config, name: "config.yaml"})
			}
			if _, err := os.Stat(paths.index); err == nil {
				files = append(files, backupFile{path: paths.index, name: "attachments.db"})
				for _, suffix := range []string{"-wal", "-shm"} {
					if _, err := os.Stat(paths.index + suffix); err == nil {
						files = append(files, backupFile{path: paths.index + suffix, name: "attachments.db" + suffix})
					}
				}
			}
			if withUploads {
				entries, err := os.ReadDir(paths.uploads)
				if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("read uploads: %w", err)
				}
				for _, e := range entries {
					if e.Type().IsRegular() {
						files = append(files, backupFile{
							path: filepath.Join(paths.uploads, e.Name()),
							name: uploadsPrefix + e.Name(),
						})
					}
				}
			}

			if len(files) == 0 {
				return fmt.Errorf("no files to backup (config: %s, index: %s)", paths.config, paths.index)
			}
			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size int64
				if info, err := os.Stat(f.path); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", f.name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.chatrelay/backups/chatrelay-backup-<timestamp>.tar.gz)")
	cmd.Flags().BoolVar(&withUploads, "uploads", false, "include stored attachments")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore chatrelay data from a backup archive",
		Long:  `Restores the config, attachment index and uploads from an archive created by 'chatrelay backup'.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: chatrelay restore <file.tar.gz>")
			}

			paths := resolveBackupPaths()
			if !force {
				_, cfgErr := os.Stat(paths.config)
				_, idxErr := os.Stat(paths.index)
				if cfgErr == nil || idxErr == nil {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Config: %s\n", paths.config)
					fmt.Printf("  Index:  %s\n", paths.index)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, paths)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func createTarGz(outputPath string, files []backupFile) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, f := range files {
		if err := addFileToTar(tarWriter, f); err != nil {
			return fmt.Errorf("add %s: %w", f.path, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, f backupFile) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = f.name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// restoreTarget maps an archive entry to its destination. Unknown entries
// are skipped.
func restoreTarget(name string, paths backupPaths) (string, bool) {
	switch {
	case name == "config.yaml":
		return paths.config, true
	case name == "attachments.db":
		return paths.index, true
	case name == "attachments.db-wal":
		return paths.index + "-wal", true
	case name == "attachments.db-shm":
		return paths.index + "-shm", true
	case strings.HasPrefix(name, uploadsPrefix):
		base := filepath.Base(name)
		if base == "." || base == ".." || base == "/" {
			return "", false
		}
		return filepath.Join(paths.uploads, base), true
	default:
		return "", false
	}
}

func extractTarGz(archivePath string, paths backupPaths) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		targetPath, ok := restoreTarget(header.Name, paths)
		if !ok {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.Create(targetPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()
		restored = append(restored, targetPath)
	}
	return restored, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

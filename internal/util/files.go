package util

import (
	"archive/zip"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ArchiveDirectory writes every file below dirPath into a zip archive at
// destPath. Entry names are relative to dirPath.
func ArchiveDirectory(dirPath, destPath string) (string, error) {
	paths := make([]string, 0)
	if err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	}); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return "", err
	}
	archive, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer archive.Close()

	zw := zip.NewWriter(archive)
	for _, p := range paths {
		rel, err := filepath.Rel(dirPath, p)
		if err != nil {
			return "", err
		}
		if err := copyToArchive(zw, p, filepath.ToSlash(rel)); err != nil {
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", err
	}

	return archive.Name(), nil
}

func copyToArchive(zw *zip.Writer, p, name string) error {
	// open file to archive
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	// open file in archive
	zf, err := zw.Create(name)
	if err != nil {
		return err
	}

	// copy file to archive
	if _, err := io.Copy(zf, f); err != nil {
		return err
	}
	return nil
}

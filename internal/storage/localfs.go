package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem is returned for state paths on NFS, SMB and friends,
// where SQLite and flock locking are unreliable.
var ErrNetworkFilesystem = errors.New("state path is on a network filesystem")

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// RequireLocal fails if path, or its nearest existing parent, is on a
// network filesystem. Platforms without detection pass.
func RequireLocal(path string) error {
	return requireLocal(path, filesystemType)
}

func requireLocal(path string, detect func(string) (string, error)) error {
	existing, err := nearestExisting(path)
	if err != nil {
		return fmt.Errorf("resolve state path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if errors.Is(err, errors.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}

	if _, ok := networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]; ok {
		return fmt.Errorf("%w: %q is on %s; set state.path to a local disk", ErrNetworkFilesystem, path, fsType)
	}
	return nil
}

func nearestExisting(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent")
		}
		candidate = parent
	}
}

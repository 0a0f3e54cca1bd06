package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// IntegrityResult is the outcome of VerifyIntegrity.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// VerifyIntegrity checks every file of the config tree against its
// directory's .checksums manifest. A missing manifest is a warning. An
// unreadable or unsupported manifest, a file missing from a manifest, or a
// hash mismatch is an error.
func VerifyIntegrity(configPath string) (*IntegrityResult, error) {
	files, err := DiscoverAllConfigFiles(configPath)
	if err != nil {
		return nil, err
	}

	result := &IntegrityResult{Passed: true}
	manifests := make(map[string]*ChecksumManifest)

	for _, path := range files {
		dir := filepath.Dir(path)
		manifest, seen := manifests[dir]
		if !seen {
			manifest, err = LoadChecksums(dir)
			switch {
			case errors.Is(err, ErrNoChecksums):
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("no %s manifest in %s; run 'tsmon config lock' to enable integrity verification", ChecksumFile, dir))
				manifest = nil
			case err != nil:
				// A manifest that exists but cannot be read fails closed.
				result.Passed = false
				result.Errors = append(result.Errors, fmt.Sprintf("%s in %s: %v", ChecksumFile, dir, err))
				manifest = nil
			}
			manifests[dir] = manifest
		}
		if manifest == nil {
			continue
		}

		expected, ok := manifest.Hashes[filepath.Base(path)]
		if !ok {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("file %s not in %s manifest", path, ChecksumFile))
			continue
		}
		if err := VerifyFileHash(path, expected); err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, err.Error())
		}
	}

	return result, nil
}

package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func setupIntegrityDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), minimalYAML+"include:\n  - extra.yaml\n")
	writeTestFile(t, filepath.Join(dir, "extra.yaml"), "events:\n  buffer: 16\n")
	return filepath.Join(dir, "config.yaml")
}

func lock(t *testing.T, root string) {
	t.Helper()
	files, err := DiscoverAllConfigFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := GenerateChecksums(files, false); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyIntegrityAllValid(t *testing.T) {
	root := setupIntegrityDir(t)
	lock(t, root)

	result, err := VerifyIntegrity(root)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Errorf("expected Passed=true, got errors: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestVerifyIntegrityMismatch(t *testing.T) {
	root := setupIntegrityDir(t)
	lock(t, root)

	writeTestFile(t, filepath.Join(filepath.Dir(root), "extra.yaml"), "events:\n  buffer: 4096\n")

	result, err := VerifyIntegrity(root)
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatal("expected Passed=false after tampering")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "hash mismatch") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestVerifyIntegrityNoManifestWarns(t *testing.T) {
	root := setupIntegrityDir(t)

	result, err := VerifyIntegrity(root)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Errorf("expected Passed=true without manifest, got %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v, want one", result.Warnings)
	}
}

func TestVerifyIntegrityUnlistedFile(t *testing.T) {
	root := setupIntegrityDir(t)
	if _, err := GenerateChecksums([]string{root}, false); err != nil {
		t.Fatal(err)
	}

	result, err := VerifyIntegrity(root)
	if err != nil {
		t.Fatal(err)
	}
	if result.Passed {
		t.Fatal("expected Passed=false for a file missing from the manifest")
	}
	if !strings.Contains(result.Errors[0], "not in") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestVerifyIntegrityCorruptManifestFailsClosed(t *testing.T) {
	for name, manifest := range map[string]string{
		"unsupported version": "version: 2\nhashes: {}\n",
		"unparseable":         "version: [1\n",
	} {
		t.Run(name, func(t *testing.T) {
			root := setupIntegrityDir(t)
			lock(t, root)
			dir := filepath.Dir(root)
			writeTestFile(t, filepath.Join(dir, "extra.yaml"), "events:\n  buffer: 4096\n")
			writeTestFile(t, filepath.Join(dir, ChecksumFile), manifest)

			result, err := VerifyIntegrity(root)
			if err != nil {
				t.Fatal(err)
			}
			if result.Passed {
				t.Fatalf("expected Passed=false with a corrupt manifest, warnings: %v", result.Warnings)
			}
			if len(result.Warnings) != 0 {
				t.Errorf("corrupt manifest reported as missing: %v", result.Warnings)
			}
			if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], ChecksumFile) {
				t.Errorf("errors = %v", result.Errors)
			}
		})
	}
}

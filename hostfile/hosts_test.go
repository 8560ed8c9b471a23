package hostfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeHostsFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write hosts file: %v", err)
	}
	return path
}

func TestLoadParsesHosts(t *testing.T) {
	path := writeHostsFile(t, "1 127.0.0.1 11001\n2 127.0.0.1 11002\n3 127.0.0.1 11003\n")
	hosts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if hosts.Count() != 3 {
		t.Fatalf("expected 3 hosts, got %d", hosts.Count())
	}
	if hosts.Majority() != 2 {
		t.Fatalf("expected majority 2, got %d", hosts.Majority())
	}
	h, ok := hosts.Get(2)
	if !ok || h.Addr.Port != 11002 {
		t.Fatalf("expected host 2 on port 11002, got %+v ok=%v", h, ok)
	}
}

func TestLoadRejectsNonContiguousIDs(t *testing.T) {
	path := writeHostsFile(t, "1 127.0.0.1 11001\n3 127.0.0.1 11003\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-contiguous ids")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := writeHostsFile(t, "1 127.0.0.1 11001\n1 127.0.0.1 11002\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate ids")
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeHostsFile(t, "1 127.0.0.1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

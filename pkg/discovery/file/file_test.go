package file

import (
    "os"
    "path/filepath"
    "testing"
    "time"
)

func write(t *testing.T, path, body string) {
    t.Helper()
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatal(err) }
}

func equal(got, want []string) bool {
    if len(got) != len(want) { return false }
    for i := range got {
        if got[i] != want[i] { return false }
    }
    return true
}

func TestEnvWinsOverFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    write(t, f, "a:1\n")
    t.Setenv("TOPICS_TEST_SEEDS", "y:8, x:9")
    got := New(Options{Path: f, Env: "TOPICS_TEST_SEEDS"}).Seeds()
    if !equal(got, []string{"x:9", "y:8"}) { t.Fatalf("seeds = %#v", got) }
}

func TestFileCommentsAndRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    write(t, f, "# peers\na:1, b:2\n\nb:2\n")
    d := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    if got := d.Seeds(); !equal(got, []string{"a:1", "b:2"}) { t.Fatalf("initial = %#v", got) }

    write(t, f, "c:3\nb:2\n")
    time.Sleep(20 * time.Millisecond)
    if got := d.Seeds(); !equal(got, []string{"b:2", "c:3"}) { t.Fatalf("refreshed = %#v", got) }
}

func TestGlobMergesFiles(t *testing.T) {
    dir := t.TempDir()
    write(t, filepath.Join(dir, "a.txt"), "a:1\nb:2\n")
    write(t, filepath.Join(dir, "b.txt"), "b:2\nc:3\n")
    got := New(Options{Path: filepath.Join(dir, "*.txt")}).Seeds()
    if !equal(got, []string{"a:1", "b:2", "c:3"}) { t.Fatalf("glob = %#v", got) }
}

func TestMissingPath(t *testing.T) {
    if got := New(Options{Path: filepath.Join(t.TempDir(), "none")}).Seeds(); len(got) != 0 { t.Fatalf("seeds = %#v", got) }
}

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/aixsync/internal/snapshot"
	"github.com/schaermu/aixsync/internal/testutil"
)

func TestLoad_MissingReturnsSkeleton(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "manifest.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", m.Version, CurrentVersion)
	}
	if m.Files == nil || len(m.Files) != 0 {
		t.Errorf("Files = %v, want empty non-nil slice", m.Files)
	}
}

func TestRead_MissingIsNotFound(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "manifest.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRead_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	testutil.WriteFile(t, path, "{not json")

	_, err := Read(path)
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestSave_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.json")

	m := New()
	m.InstalledAt = "2026-01-02"
	m.UpdatedAt = "2026-01-03"
	m.AixVersion = "1.4.0"
	m.Add(Entry{Path: "a.md", Source: "templates/a.md", Hash: "abc", Capability: "agents"})
	m.Add(Entry{Path: "b.md", Source: "templates/b.md", Hash: "def"})

	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first := testutil.ReadFile(t, path)

	loaded, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := Save(path, loaded); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second := testutil.ReadFile(t, path)

	if first != second {
		t.Errorf("re-saving changed bytes:\n%s\n---\n%s", first, second)
	}

	want := `{
  "manifest_version": 1,
  "installed_at": "2026-01-02",
  "updated_at": "2026-01-03",
  "aix_version": "1.4.0",
  "files": [
    {
      "path": "a.md",
      "source": "templates/a.md",
      "sha256": "abc",
      "capability": "agents"
    },
    {
      "path": "b.md",
      "source": "templates/b.md",
      "sha256": "def"
    }
  ]
}
`
	if first != want {
		t.Errorf("unexpected manifest encoding:\n%s", first)
	}
}

func TestSave_KeepsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	testutil.WriteFile(t, path, `{
  "manifest_version": 1,
  "files": [
    {"path": "a.md", "source": "templates/a.md", "sha256": "abc", "origin": "adopt"}
  ],
  "generated": {"claude": {"files": 3}}
}`)

	m, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first := testutil.ReadFile(t, path)

	want := `{
  "manifest_version": 1,
  "files": [
    {
      "path": "a.md",
      "source": "templates/a.md",
      "sha256": "abc",
      "origin": "adopt"
    }
  ],
  "generated": {
    "claude": {
      "files": 3
    }
  }
}
`
	if first != want {
		t.Errorf("unexpected manifest encoding:\n%s", first)
	}

	m, err = Read(path)
	if err != nil {
		t.Fatalf("second Read: %v", err)
	}
	m.Stamp(time.Date(2026, 7, 8, 0, 0, 0, 0, time.UTC))
	if err := Save(path, m); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	second := testutil.ReadFile(t, path)
	if !strings.Contains(second, `"updated_at": "2026-07-08"`) || !strings.Contains(second, `"generated": {`) {
		t.Errorf("stamping lost data:\n%s", second)
	}
}

func TestRead_MalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	testutil.WriteFile(t, path, `{"manifest_version": 1, "files": [
  {"path": "a.md", "source": "templates/a.md", "sha256": "abc"},
  {"path": 42, "source": "templates/b.md"},
  {"path": "c.md", "source": null},
  "d.md",
  null
]}`)

	m, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(m.Files) != 5 {
		t.Fatalf("got %d entries, want 5", len(m.Files))
	}
	for i, want := range []bool{false, true, true, true, true} {
		if got := m.Files[i].Malformed(); got != want {
			t.Errorf("entry %d: Malformed() = %v, want %v", i, got, want)
		}
	}
	if m.Files[2].Path != "c.md" {
		t.Errorf("decodable path not kept: %q", m.Files[2].Path)
	}

	if err := Save(path, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data := testutil.ReadFile(t, path)
	for _, want := range []string{`"path": 42`, `"source": null`, `"d.md"`, "    null\n"} {
		if !strings.Contains(data, want) {
			t.Errorf("saved manifest missing %q:\n%s", want, data)
		}
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	for i := 0; i < 2; i++ {
		if err := Save(path, New()); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "manifest.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestAdd_Dedup(t *testing.T) {
	m := New()
	if !m.Add(Entry{Path: "a.md", Source: "one"}) {
		t.Fatal("first Add should succeed")
	}
	if m.Add(Entry{Path: "a.md", Source: "two"}) {
		t.Fatal("duplicate Add should be a no-op")
	}
	if len(m.Files) != 1 || m.Files[0].Source != "one" {
		t.Errorf("Files = %+v, want single original entry", m.Files)
	}
}

func TestCapabilities(t *testing.T) {
	m := New()
	m.Add(Entry{Path: "a", Capability: "agents"})
	m.Add(Entry{Path: "b"})
	m.Add(Entry{Path: "c", Capability: "skills"})
	m.Add(Entry{Path: "d", Capability: "agents"})

	caps := m.Capabilities()
	if len(caps) != 2 || caps[0] != "agents" || caps[1] != "skills" {
		t.Errorf("Capabilities() = %v", caps)
	}
}

type recorderFixture struct {
	repo      string
	framework string
	manifest  string
	snapshots *snapshot.Store
	recorder  *Recorder
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	t.Helper()
	root := t.TempDir()
	f := &recorderFixture{
		repo:      filepath.Join(root, "repo"),
		framework: filepath.Join(root, "framework"),
	}
	f.manifest = filepath.Join(f.repo, ".aix", "manifest.json")
	f.snapshots = snapshot.NewStore(filepath.Join(f.repo, ".aix", "snapshots"))
	f.recorder = NewRecorder(f.manifest, f.repo, f.framework, "1.2.3", f.snapshots, testutil.Logger())
	f.recorder.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return f
}

func TestInit(t *testing.T) {
	f := newRecorderFixture(t)

	if err := f.recorder.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if m.InstalledAt != "2026-03-04" || m.UpdatedAt != "2026-03-04" || m.AixVersion != "1.2.3" {
		t.Errorf("unexpected stamps: %+v", m)
	}

	// a later init keeps installed_at
	f.recorder.now = func() time.Time { return time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC) }
	if err := f.recorder.Init(); err != nil {
		t.Fatal(err)
	}
	m, err = Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if m.InstalledAt != "2026-03-04" {
		t.Errorf("installed_at changed to %s", m.InstalledAt)
	}
	if m.UpdatedAt != "2026-05-06" {
		t.Errorf("updated_at = %s, want 2026-05-06", m.UpdatedAt)
	}
}

func TestTouch(t *testing.T) {
	f := newRecorderFixture(t)
	if err := f.recorder.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	m, err := Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if m.UpdatedAt != "2026-03-04" || m.InstalledAt != "" {
		t.Errorf("unexpected stamps after touch: %+v", m)
	}
}

func TestRecord_Idempotent(t *testing.T) {
	f := newRecorderFixture(t)
	testutil.WriteFile(t, filepath.Join(f.framework, "templates", "coder.md"), "A\nB\n")
	testutil.WriteFile(t, filepath.Join(f.repo, ".claude", "agents", "coder.md"), "A\nB\n")

	src := filepath.Join(f.framework, "templates", "coder.md")
	added, err := f.recorder.Record(src, ".claude/agents/coder.md", "agents")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !added {
		t.Fatal("expected first Record to add an entry")
	}

	// upstream changes before the second registration; the base must not move
	testutil.WriteFile(t, src, "A\nC\n")
	before := testutil.ReadFile(t, f.manifest)

	added, err = f.recorder.Record(src, ".claude/agents/coder.md", "agents")
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if added {
		t.Error("second Record should be a no-op")
	}
	if after := testutil.ReadFile(t, f.manifest); after != before {
		t.Error("second Record changed the manifest")
	}

	m, err := Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Files) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Files))
	}
	e := m.Files[0]
	if e.Path != ".claude/agents/coder.md" || e.Source != "templates/coder.md" || e.Capability != "agents" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.Hash != snapshot.ContentHash([]byte("A\nB\n")) {
		t.Error("entry hash must be the digest of the snapshot")
	}
	if got := testutil.ReadFile(t, f.snapshots.Path(e.Path)); got != "A\nB\n" {
		t.Errorf("snapshot = %q, want original content", got)
	}
	count, err := f.snapshots.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("snapshot count = %d, want 1", count)
	}
}

func TestRecord_MissingDestIsNoop(t *testing.T) {
	f := newRecorderFixture(t)
	testutil.WriteFile(t, filepath.Join(f.framework, "x.md"), "x")

	added, err := f.recorder.Record(filepath.Join(f.framework, "x.md"), "missing.md", "")
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("Record must not add an entry for a missing destination")
	}
	testutil.AssertMissing(t, f.manifest)
}

func TestRecord_SnapshotFallsBackToDest(t *testing.T) {
	f := newRecorderFixture(t)
	testutil.WriteFile(t, filepath.Join(f.repo, "local.md"), "local\n")

	outside := filepath.Join(t.TempDir(), "gone.md")
	if _, err := f.recorder.Record(outside, "local.md", ""); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ReadFile(t, f.snapshots.Path("local.md")); got != "local\n" {
		t.Errorf("snapshot = %q, want destination content", got)
	}
	m, err := Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if m.Files[0].Source != outside {
		t.Errorf("source outside framework should be stored as given, got %q", m.Files[0].Source)
	}
}

func TestRecord_DestOutsideRepo(t *testing.T) {
	f := newRecorderFixture(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.md")
	testutil.WriteFile(t, outside, "x")

	if _, err := f.recorder.Record(outside, outside, ""); err == nil {
		t.Fatal("expected error for destination outside the repo")
	}
}

func TestRecordDir(t *testing.T) {
	f := newRecorderFixture(t)
	testutil.WriteFiles(t, filepath.Join(f.framework, "skills"), map[string]string{
		"review/SKILL.md": "review\n",
		"plan/SKILL.md":   "plan\n",
		"plan/extra.md":   "extra\n",
	})
	// only two of the three have been rendered into the repo
	testutil.WriteFiles(t, filepath.Join(f.repo, ".claude", "skills"), map[string]string{
		"review/SKILL.md": "review\n",
		"plan/SKILL.md":   "plan (local)\n",
	})

	added, err := f.recorder.RecordDir(filepath.Join(f.framework, "skills"), ".claude/skills", "skills")
	if err != nil {
		t.Fatalf("RecordDir: %v", err)
	}
	if added != 2 {
		t.Errorf("RecordDir added %d, want 2", added)
	}

	// re-running is safe
	added, err = f.recorder.RecordDir(filepath.Join(f.framework, "skills"), ".claude/skills", "skills")
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Errorf("second RecordDir added %d, want 0", added)
	}

	m, err := Read(f.manifest)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Lookup(".claude/skills/plan/SKILL.md"); !ok {
		t.Error("plan skill not tracked")
	}
	if got := testutil.ReadFile(t, f.snapshots.Path(".claude/skills/plan/SKILL.md")); got != "plan\n" {
		t.Errorf("snapshot should come from the upstream source, got %q", got)
	}
}

func TestRecordDir_MissingSourceRoot(t *testing.T) {
	f := newRecorderFixture(t)
	added, err := f.recorder.RecordDir(filepath.Join(f.framework, "nope"), "dest", "")
	if err != nil || added != 0 {
		t.Fatalf("RecordDir on missing root = (%d, %v), want (0, nil)", added, err)
	}
	if _, err := os.Stat(f.manifest); !os.IsNotExist(err) {
		t.Error("manifest should not be created")
	}
}

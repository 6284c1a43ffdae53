package cmd

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/sprout/internal/config"
	"github.com/marcus/sprout/internal/derive"
)

func run(t *testing.T, home string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--home", home}, args...))
	return rootCmd.Execute()
}

func TestRecordCommands(t *testing.T) {
	home := t.TempDir()

	if err := run(t, home, "plant", "p1", "--plot", "bed", "--species", "fern", "--cost", "10"); err != nil {
		t.Fatalf("plant: %v", err)
	}
	if err := run(t, home, "water", "p1"); err != nil {
		t.Fatalf("water: %v", err)
	}
	if err := run(t, home, "edit", "p1", "--note", "likes *shade*"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := run(t, home, "harvest", "ghost", "--reward", "5"); !errors.Is(err, ErrRejected) {
		t.Fatalf("harvest unknown plant: got %v, want ErrRejected", err)
	}
	if err := run(t, home, "expand", "-3"); err == nil {
		t.Fatal("expand with negative amount should fail")
	}

	g, _, err := openGarden()
	if err != nil {
		t.Fatalf("openGarden: %v", err)
	}
	defer g.Close()

	v, err := buildStatus(g)
	if err != nil {
		t.Fatalf("buildStatus: %v", err)
	}
	if v.Plants[string(derive.StatusGrowing)] != 1 {
		t.Errorf("growing plants: got %d, want 1", v.Plants[string(derive.StatusGrowing)])
	}
	if v.Events != 4 || v.Pending != 4 {
		t.Errorf("events/pending: got %d/%d, want 4/4", v.Events, v.Pending)
	}
	if v.Energy.Available != 90.5 {
		t.Errorf("available: got %v, want 90.5", v.Energy.Available)
	}
	if v.Sync != "offline" {
		t.Errorf("sync: got %q, want offline", v.Sync)
	}
	if p, _ := g.Plant("p1"); p.Note != "likes *shade*" {
		t.Errorf("note: got %q", p.Note)
	}

	cfg, err := config.Load(home)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.DeviceID == "" {
		t.Error("device id was not generated")
	}
}

func TestExportImportCommands(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	file := filepath.Join(t.TempDir(), "garden.json")

	if err := run(t, src, "expand", "40"); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if err := run(t, src, "export", file); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := run(t, dst, "import", file); err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := run(t, dst, "import", file); err != nil {
		t.Fatalf("second import: %v", err)
	}

	g, _, err := openGarden()
	if err != nil {
		t.Fatalf("openGarden: %v", err)
	}
	defer g.Close()
	if got := g.State().Energy.Capacity; got != 140 {
		t.Errorf("capacity after import: got %v, want 140", got)
	}
	if n := len(g.Events()); n != 1 {
		t.Errorf("events after double import: got %d, want 1", n)
	}
}

func TestSyncWithoutServer(t *testing.T) {
	home := t.TempDir()
	if err := run(t, home, "sync"); err == nil {
		t.Fatal("sync without a server should fail")
	}
	if err := run(t, home, "doctor"); err != nil {
		t.Fatalf("doctor: %v", err)
	}
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("sortedKeys = %v", got)
	}
}

func TestShowHistorySince(t *testing.T) {
	home := t.TempDir()
	if err := run(t, home, "expand", "10"); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if err := run(t, home, "show", "--history", "--since", "-1d"); err != nil {
		t.Fatalf("show --history --since: %v", err)
	}
	if err := run(t, home, "show", "--history", "--since", "someday"); err == nil {
		t.Fatal("show --since with a bad date should fail")
	}
	showCmd.Flags().Set("since", "")
	showCmd.Flags().Set("history", "false")
}

func TestShowUnknownPlantSuggests(t *testing.T) {
	home := t.TempDir()
	if err := run(t, home, "plant", "tomato-1", "--plot", "bed", "--species", "tomato", "--cost", "1"); err != nil {
		t.Fatalf("plant: %v", err)
	}
	err := run(t, home, "show", "tomat")
	if err == nil || !strings.Contains(err.Error(), "tomato-1") {
		t.Fatalf("show tomat: got %v, want a suggestion for tomato-1", err)
	}
}

func TestUnknownFlagIsRejected(t *testing.T) {
	if err := run(t, t.TempDir(), "plant", "p1", "--bed", "a"); err == nil {
		t.Fatal("unknown flag should fail")
	}
}

func TestSealedExportImportCommands(t *testing.T) {
	src, dst := t.TempDir(), t.TempDir()
	file := filepath.Join(t.TempDir(), "garden.sealed")
	t.Setenv("SPROUT_EXPORT_PASSPHRASE", "hunter2")

	if err := run(t, src, "expand", "5"); err != nil {
		t.Fatalf("expand: %v", err)
	}
	if err := run(t, src, "export", file); err != nil {
		t.Fatalf("export: %v", err)
	}
	t.Setenv("SPROUT_EXPORT_PASSPHRASE", "")
	if err := run(t, dst, "import", file); err == nil {
		t.Fatal("import of a sealed file without a passphrase should fail")
	}
	t.Setenv("SPROUT_EXPORT_PASSPHRASE", "hunter2")
	if err := run(t, dst, "import", file); err != nil {
		t.Fatalf("import: %v", err)
	}
}

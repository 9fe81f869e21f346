package db

import (
	"strings"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tables := []string{"schema_version", "runs", "run_events", "attempts", "check_runs"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)
	if err := d.StartRun("r1", "/tmp/a", 3, 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := d.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected empty runs after reset, got %d", len(runs))
	}
}

func TestDialectFor(t *testing.T) {
	cases := map[string]Dialect{
		"postgres://u@h/db":   DialectPostgres,
		"postgresql://u@h/db": DialectPostgres,
		"/tmp/swarm.db":       DialectSQLite,
		":memory:":            DialectSQLite,
	}
	for dsn, want := range cases {
		if got := DialectFor(dsn); got != want {
			t.Errorf("DialectFor(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	if got := pg.Rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("Rebind = %q", got)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite Rebind = %q", got)
	}
}

func TestSchemaStatements_Postgres(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	for _, stmt := range pg.schemaStatements() {
		if strings.Contains(stmt, "AUTOINCREMENT") || strings.Contains(stmt, "{{id}}") {
			t.Errorf("postgres statement not rewritten: %s", stmt)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	d := testDB(t)

	if err := d.StartRun("r1", "/tmp/project", 3, 0.8); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	r, err := d.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r == nil || r.Finished {
		t.Fatalf("run = %+v, want unfinished run", r)
	}

	err = d.FinishRun("r1", RunSummary{Success: true, Reason: "all tests passed", IterationsUsed: 2, FilesProcessed: 3, BugsFixed: 5, TestsPassed: 10, TestsTotal: 10})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	r, _ = d.GetRun("r1")
	if !r.Finished || !r.Success || r.IterationsUsed != 2 || r.TestsTotal != 10 {
		t.Errorf("run = %+v", r)
	}

	missing, err := d.GetRun("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRunEventsAttemptsAndChecks(t *testing.T) {
	d := testDB(t)
	d.StartRun("r1", "/tmp/project", 3, 1)

	d.LogRunEvent("r1", "AUDIT", "phase_start", 0, "")
	d.LogRunEvent("r1", "FIX", "phase_start", 1, "files=2")
	events, err := d.GetRunEvents("r1")
	if err != nil {
		t.Fatalf("GetRunEvents: %v", err)
	}
	if len(events) != 2 || events[1].Detail != "files=2" {
		t.Errorf("events = %+v", events)
	}

	d.LogAttempt("r1", 1, 0, "a.py", false, "signature", []string{"missing function area"})
	d.LogAttempt("r1", 1, 1, "a.py", true, "", nil)
	attempts, err := d.GetAttempts("r1")
	if err != nil {
		t.Fatalf("GetAttempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].FailedGate != "signature" || !attempts[1].Accepted {
		t.Errorf("attempts = %+v", attempts)
	}

	d.LogCheckRun("r1", 1, "pytest", "tests", false, 1, 1200, "3 passed, 1 failed")
	checks, err := d.GetCheckRuns("r1", 1)
	if err != nil {
		t.Fatalf("GetCheckRuns: %v", err)
	}
	if len(checks) != 1 || checks[0].Passed || checks[0].DurationMs != 1200 {
		t.Errorf("checks = %+v", checks)
	}
}

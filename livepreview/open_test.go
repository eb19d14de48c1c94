package livepreview

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepick/dbopen"
)

func TestOpenWiresJournalMetricsAndAudit(t *testing.T) {
	checkLeaks(t)
	path := filepath.Join(t.TempDir(), "journal.db")

	cfg := DefaultConfig()
	cfg.Journal = JournalConfig{Path: path, Metrics: true, Audit: true}
	cfg.Sinks = []SinkConfig{{Type: "stdout"}}

	var out bytes.Buffer
	s, err := Open(cfg, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/source", `{"raw_code":"export default function A() { return <p id=\"x\">hi</p>; }"}`); rec.Code != http.StatusOK {
		t.Fatalf("render: %d %s", rec.Code, rec.Body)
	}
	do(t, h, http.MethodPost, "/api/edit-mode", `{"enabled":true}`)
	if rec := do(t, h, http.MethodPost, "/api/pick", `{"selector":"#x"}`); rec.Code != http.StatusOK {
		t.Fatalf("pick: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, http.MethodPost, "/api/pick/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pick missing: %d", rec.Code)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), `"type":"render"`) {
		t.Errorf("stdout sink output = %s", out.String())
	}

	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	count := func(q string, args ...any) int {
		t.Helper()
		var n int
		if err := db.QueryRow(q, args...).Scan(&n); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return n
	}
	if n := count("SELECT COUNT(*) FROM selection_journal WHERE session_id = ? AND kind = 'picked'", s.ID()); n != 1 {
		t.Errorf("journal picked rows = %d, want 1", n)
	}
	if n := count("SELECT COUNT(*) FROM metrics_timeseries WHERE metric_name = 'render_duration_ms'"); n != 1 {
		t.Errorf("render duration metrics = %d, want 1", n)
	}
	if n := count("SELECT COUNT(*) FROM metrics_timeseries WHERE metric_name = 'selection_events'"); n != 1 {
		t.Errorf("selection event metrics = %d, want 1", n)
	}
	if n := count("SELECT COUNT(*) FROM audit_log WHERE transport = 'http' AND session_id = ?", s.ID()); n != 4 {
		t.Errorf("audit rows = %d, want 4", n)
	}
	if n := count("SELECT COUNT(*) FROM audit_log WHERE operation_type = 'pick' AND status = 'error'"); n != 1 {
		t.Errorf("failed pick audit rows = %d, want 1", n)
	}
}

func TestOpenWithoutJournal(t *testing.T) {
	s, err := Open(nil, nil, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.audit != nil {
		t.Error("audit enabled without a journal")
	}
}

func TestOpenRejectsUnknownSink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sinks = []SinkConfig{{Type: "carrier-pigeon"}}
	if _, err := Open(cfg, nil, &bytes.Buffer{}); err == nil {
		t.Fatal("unknown sink accepted")
	}
}

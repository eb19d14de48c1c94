package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/livepick/dbopen"
	"github.com/hazyhaar/livepick/livepreview/selection"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return New(db)
}

func TestAppendAndList(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	snap := &selection.Snapshot{IdentityTag: "button-ab12", StructuralPath: "form > button#save", TagName: "button"}

	events := []selection.Event{
		{SessionID: "s1", Type: selection.EventPicked, Snapshot: snap, Valid: true, At: at},
		{SessionID: "s1", Type: selection.EventInvalidated, Snapshot: snap, At: at.Add(time.Second)},
		{SessionID: "s2", Type: selection.EventCleared, At: at.Add(2 * time.Second)},
	}
	for _, ev := range events {
		if err := j.Send(ctx, ev); err != nil {
			t.Fatalf("send %s: %v", ev.Type, err)
		}
	}
	if err := j.SendRender(ctx, selection.Render{SessionID: "s1", Status: "rendered", At: at.Add(3 * time.Second)}); err != nil {
		t.Fatalf("render: %v", err)
	}

	got, err := j.List(ctx, ListOptions{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].Kind != "picked" || !got[0].Valid || got[0].IdentityTag != "button-ab12" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Kind != "invalidated" || got[1].Valid {
		t.Errorf("second = %+v", got[1])
	}
	if got[2].Kind != "render" || !got[2].Valid {
		t.Errorf("third = %+v", got[2])
	}
	if !strings.HasPrefix(got[0].ID, "sel_") {
		t.Errorf("id = %q", got[0].ID)
	}

	var decoded selection.Event
	if err := json.Unmarshal(got[0].Payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Snapshot == nil || decoded.Snapshot.StructuralPath != "form > button#save" {
		t.Errorf("payload = %s", got[0].Payload)
	}
}

func TestListFilters(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	for _, typ := range []selection.EventType{selection.EventPicked, selection.EventRecovered, selection.EventCleared} {
		if err := j.Send(ctx, selection.Event{SessionID: "s", Type: typ}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := j.List(ctx, ListOptions{Kinds: []string{"picked", "cleared"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("kinds filter: %d entries", len(got))
	}
	got, err = j.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("limit: %d entries", len(got))
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()
	if err := j.Send(context.Background(), selection.Event{SessionID: "s", Type: selection.EventPicked}); err != nil {
		t.Fatal(err)
	}
}

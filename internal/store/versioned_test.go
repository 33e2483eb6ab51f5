package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestBuildConditionalWrite_Update(t *testing.T) {
	three := 3
	w := versionedWrite{
		kind: writeUpdate, rt: models.ResourceEscrow, id: "e1", expect: &three,
		sets: []assignment{
			{col: models.ColTitle, value: "New"},
			{col: models.ColDetails, value: []byte(`{"k":"v"}`), merge: true},
		},
	}

	query, args, err := buildConditionalWrite(broker, w)
	if err != nil {
		t.Fatalf("buildConditionalWrite: %v", err)
	}

	want := "UPDATE escrows AS t SET title = $1, details = t.details || $2::jsonb, version = t.version + 1, updated_at = NOW()" +
		" WHERE t.owner_id IN (SELECT id FROM users WHERE broker_id = $3) AND t.id = $4 AND t.archived_at IS NULL AND t.version = $5" +
		" RETURNING "
	if !strings.HasPrefix(query, want) {
		t.Errorf("query = %q\nwant prefix %q", query, want)
	}

	if len(args) != 5 || args[0] != "New" || args[2] != "b1" || args[3] != "e1" || args[4] != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestBuildConditionalWrite_Lifecycle(t *testing.T) {
	tests := []struct {
		kind writeKind
		want string
	}{
		{writeArchive, "UPDATE leads AS t SET archived_at = NOW(), version = t.version + 1, updated_at = NOW() WHERE t.team_id = $1 AND (t.is_private = FALSE OR t.owner_id = $2) AND t.id = $3 AND t.archived_at IS NULL RETURNING "},
		{writeRestore, "UPDATE leads AS t SET archived_at = NULL, version = t.version + 1, updated_at = NOW() WHERE t.team_id = $1 AND (t.is_private = FALSE OR t.owner_id = $2) AND t.id = $3 AND t.archived_at IS NOT NULL RETURNING "},
		{writeDelete, "DELETE FROM leads AS t WHERE t.team_id = $1 AND (t.is_private = FALSE OR t.owner_id = $2) AND t.id = $3 RETURNING "},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			query, args, err := buildConditionalWrite(agent, versionedWrite{kind: tc.kind, rt: models.ResourceLead, id: "l1"})
			if err != nil {
				t.Fatalf("buildConditionalWrite: %v", err)
			}
			if !strings.HasPrefix(query, tc.want) {
				t.Errorf("query = %q\nwant prefix %q", query, tc.want)
			}
			if len(args) != 3 {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestUpdate_Succeeds(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{{scan: fill(recordVals("l1", 4)...)}}}
	s := NewResourceStore(Base{DB: db})
	title := "Renamed"
	three := 3

	rec, err := s.Update(context.Background(), agent, models.ResourceLead, "l1", models.Mutation{Title: &title, Version: &three})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if rec.Version != 4 {
		t.Errorf("version = %d, want 4", rec.Version)
	}
	if len(db.calls) != 1 {
		t.Errorf("a successful write is a single statement, got %d", len(db.calls))
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	db := &fakeDB{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{scan: fill(5)},
	}}
	s := NewResourceStore(Base{DB: db})
	title := "Stale"
	three := 3

	_, err := s.Update(context.Background(), agent, models.ResourceLead, "l1", models.Mutation{Title: &title, Version: &three})
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	var vc *models.VersionConflictError
	if !errors.As(err, &vc) || vc.CurrentVersion != 5 || vc.AttemptedVersion != 3 {
		t.Errorf("conflict = %+v", vc)
	}

	reread := db.calls[1].sql
	if !strings.HasPrefix(reread, "SELECT t.version FROM leads AS t WHERE t.team_id = $1") ||
		!strings.HasSuffix(reread, "AND t.archived_at IS NULL") {
		t.Errorf("re-read must apply scope and lifecycle gate: %q", reread)
	}
}

func TestUpdate_VersionedButGone(t *testing.T) {
	db := &fakeDB{}
	s := NewResourceStore(Base{DB: db})
	title := "x"
	one := 1

	_, err := s.Update(context.Background(), agent, models.ResourceLead, "l1", models.Mutation{Title: &title, Version: &one})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(db.calls) != 2 {
		t.Errorf("expected write then re-read, got %d calls", len(db.calls))
	}
}

func TestArchive_UnversionedMissIsNotFound(t *testing.T) {
	db := &fakeDB{}
	s := NewResourceStore(Base{DB: db})

	_, err := s.Archive(context.Background(), agent, models.ResourceLead, "l1", nil)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(db.calls) != 1 {
		t.Errorf("no re-read without a client version, got %d calls", len(db.calls))
	}
}

func TestUpdate_EmptyMutation(t *testing.T) {
	s := NewResourceStore(Base{DB: &fakeDB{}})
	one := 1

	_, err := s.Update(context.Background(), agent, models.ResourceLead, "l1", models.Mutation{Version: &one})
	if !errors.Is(err, models.ErrEmptyUpdate) {
		t.Errorf("expected ErrEmptyUpdate, got %v", err)
	}
}

func TestConditionalWrite_ForbiddenScopeNeverQueries(t *testing.T) {
	db := &fakeDB{}
	s := NewResourceStore(Base{DB: db})
	noBroker := access.Principal{ID: "u9", Role: access.RoleBroker}

	_, err := s.Delete(context.Background(), noBroker, models.ResourceEscrow, "e1", nil)
	if !errors.Is(err, access.ErrMissingBrokerAffiliation) {
		t.Errorf("expected ErrMissingBrokerAffiliation, got %v", err)
	}
	if len(db.calls) != 0 {
		t.Errorf("expected no statements, got %d", len(db.calls))
	}
}

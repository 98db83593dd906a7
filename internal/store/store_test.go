package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(sessionID, signalID string, at time.Time) *session.ParticipationEvent {
	return &session.ParticipationEvent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		DisplayName: "Jamie R",
		Type:        session.Chat,
		Value:       "hello",
		OccurredAt:  at,
		DedupKey:    session.DedupKey(session.Chat, signalID, at, time.Second),
	}
}

func TestStartSessionOneActivePerClass(t *testing.T) {
	s := openTestStore(t)

	first, err := s.StartSession("class-1", "Algebra II", "https://meet.example/abc")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if first.Status != session.Active {
		t.Errorf("status = %s, want active", first.Status)
	}

	if _, err := s.StartSession("class-1", "Algebra II", ""); !errors.Is(err, ErrClassHasActiveSession) {
		t.Fatalf("second StartSession err = %v, want ErrClassHasActiveSession", err)
	}

	// A different class is unaffected.
	if _, err := s.StartSession("class-2", "Chemistry", ""); err != nil {
		t.Fatalf("StartSession other class: %v", err)
	}

	// Ending the first frees the class for a new session.
	if err := s.EndSession(first.ID, time.Now()); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := s.StartSession("class-1", "Algebra II", ""); err != nil {
		t.Fatalf("StartSession after end: %v", err)
	}
}

func TestEndSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.EndSession("nope", time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestEndSessionIdempotent(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.StartSession("class-1", "Algebra II", "")
	if err := s.EndSession(sess.ID, time.Now()); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if err := s.EndSession(sess.ID, time.Now()); err != nil {
		t.Fatalf("second end should be a no-op, got %v", err)
	}

	got, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != session.Ended || got.EndedAt == nil {
		t.Errorf("session = %+v, want ended with EndedAt set", got)
	}
}

func TestAppendEventDedup(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.StartSession("class-1", "Algebra II", "")

	at := time.Now()
	ev := testEvent(sess.ID, "jamie:mic", at)

	inserted, err := s.AppendEvent(ev)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if !inserted {
		t.Fatal("first append should insert")
	}

	// Redelivery with the same dedup key: acknowledged, no second row.
	dup := testEvent(sess.ID, "jamie:mic", at)
	dup.DedupKey = ev.DedupKey
	inserted, err = s.AppendEvent(dup)
	if err != nil {
		t.Fatalf("AppendEvent duplicate: %v", err)
	}
	if inserted {
		t.Error("duplicate append reported an insert")
	}

	n, err := s.EventCount(sess.ID)
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	if n != 1 {
		t.Errorf("event rows = %d, want exactly 1", n)
	}
}

func TestAppendEventSameKeyOtherSession(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.StartSession("class-1", "Algebra II", "")
	b, _ := s.StartSession("class-2", "Chemistry", "")

	at := time.Now()
	ev1 := testEvent(a.ID, "sig", at)
	ev2 := testEvent(b.ID, "sig", at)
	ev2.DedupKey = ev1.DedupKey // same key, different session

	if ins, err := s.AppendEvent(ev1); err != nil || !ins {
		t.Fatalf("append a: %v %v", ins, err)
	}
	if ins, err := s.AppendEvent(ev2); err != nil || !ins {
		t.Fatalf("dedup key should be scoped per session: %v %v", ins, err)
	}
}

func TestActiveSessionsRebuild(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.StartSession("class-1", "Algebra II", "")
	ended, _ := s.StartSession("class-2", "Chemistry", "")
	s.EndSession(ended.ID, time.Now())

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"Jamie R", "Priya S", "Jamie R"} {
		ev := testEvent(sess.ID, name, at.Add(time.Duration(i)*time.Minute))
		ev.DisplayName = name
		if _, err := s.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	entries, err := s.ActiveSessions()
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1 (ended session excluded)", len(entries))
	}
	e := entries[0]
	if e.SessionID != sess.ID {
		t.Errorf("SessionID = %s", e.SessionID)
	}
	if e.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3", e.EventCount)
	}
	if e.ParticipantCount != 2 {
		t.Errorf("ParticipantCount = %d, want 2 distinct names", e.ParticipantCount)
	}
	if !e.LastActivityAt.Equal(at.Add(2 * time.Minute)) {
		t.Errorf("LastActivityAt = %v", e.LastActivityAt)
	}
}

func TestMaxSeq(t *testing.T) {
	s := openTestStore(t)
	sess, _ := s.StartSession("class-1", "Algebra II", "")

	if max, err := s.MaxSeq(sess.ID); err != nil || max != 0 {
		t.Fatalf("MaxSeq empty = %d, %v", max, err)
	}

	at := time.Now()
	for i := uint64(1); i <= 3; i++ {
		ev := testEvent(sess.ID, uuid.NewString(), at)
		ev.Seq = i
		if _, err := s.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	max, err := s.MaxSeq(sess.ID)
	if err != nil {
		t.Fatalf("MaxSeq: %v", err)
	}
	if max != 3 {
		t.Errorf("MaxSeq = %d, want 3", max)
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/celerix-dev/tether/pkg/schema"
)

func TestMemory_ProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()

	if _, err := ms.GetProfile(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if _, err := ms.CreateProfile(ctx, &schema.Profile{ID: "u1", Timezone: "UTC", NudgesEnabled: true}); err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}
	if _, err := ms.CreateProfile(ctx, &schema.Profile{ID: "u1"}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict on duplicate, got %v", err)
	}

	name := "Sam"
	p, err := ms.UpdateProfile(ctx, "u1", schema.ProfilePatch{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if p.DisplayName != "Sam" || !p.NudgesEnabled {
		t.Errorf("Unexpected profile after patch: %+v", p)
	}

	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	if err := ms.TouchEngaged(ctx, "u1", at); err != nil {
		t.Fatalf("TouchEngaged failed: %v", err)
	}
	engaged, _ := ms.ListProfiles(ctx, ProfileFilter{EngagedOnly: true})
	if len(engaged) != 1 || !engaged[0].LastEngagedAt.Equal(at) {
		t.Errorf("Expected one engaged profile at %v, got %+v", at, engaged)
	}
}

func TestMemory_ActivitiesNewestFirstAndDelete(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		a, err := ms.InsertActivity(ctx, &schema.ActivityLog{UserID: "u1", Kind: schema.KindCheckIn, OccurredAt: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("InsertActivity failed: %v", err)
		}
		ids = append(ids, a.ID)
	}

	list, _ := ms.ListActivities(ctx, "u1", ActivityFilter{From: base.Add(time.Hour), To: base.Add(4 * time.Hour), Limit: 2})
	if len(list) != 2 || !list[0].OccurredAt.Equal(base.Add(3*time.Hour)) {
		t.Errorf("Expected newest-first window of 2, got %+v", list)
	}

	if err := ms.DeleteActivity(ctx, "u2", ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deleting another user's row must be not found, got %v", err)
	}
	if err := ms.DeleteActivity(ctx, "u1", ids[0]); err != nil {
		t.Fatalf("DeleteActivity failed: %v", err)
	}
	all, _ := ms.ActivitiesSince(ctx, time.Time{})
	if len(all) != 4 {
		t.Errorf("Expected 4 activities, got %d", len(all))
	}
}

func TestMemory_SingleOpenSession(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	now := time.Now().UTC()

	s, err := ms.InsertSession(ctx, &schema.RecoverySession{UserID: "u1", Trigger: schema.TriggerManual, Status: schema.SessionOpen, OpenedAt: now})
	if err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if _, err := ms.InsertSession(ctx, &schema.RecoverySession{UserID: "u1", Trigger: schema.TriggerAutoLapse, Status: schema.SessionOpen, OpenedAt: now}); !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict for a second open session, got %v", err)
	}

	s.Status = schema.SessionResolved
	s.ResolvedAt = &now
	if _, err := ms.UpdateOpenSession(ctx, s); err != nil {
		t.Fatalf("UpdateOpenSession failed: %v", err)
	}
	if _, err := ms.UpdateOpenSession(ctx, s); !errors.Is(err, ErrNotFound) {
		t.Errorf("Updating a closed session must fail, got %v", err)
	}
}

func TestMemory_CountUsageSince(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	month := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	ms.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: schema.EventReportGenerated, CreatedAt: month.Add(-time.Second)})
	ms.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: schema.EventReportGenerated, CreatedAt: month})
	ms.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: schema.EventNudgeSent, CreatedAt: month})

	n, _ := ms.CountUsage(ctx, "u1", schema.EventReportGenerated, month)
	if n != 1 {
		t.Errorf("Expected 1 report this month, got %d", n)
	}
}

func TestMemory_Concurrency(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%4)
			ms.InsertActivity(ctx, &schema.ActivityLog{UserID: user, Kind: schema.KindCraving, OccurredAt: time.Now()})
			ms.ListActivities(ctx, user, ActivityFilter{})
		}(i)
	}
	wg.Wait()

	all, _ := ms.ActivitiesSince(ctx, time.Time{})
	if len(all) != 20 {
		t.Errorf("Expected 20 activities, got %d", len(all))
	}
}

func TestMemory_RejectsInvalidRows(t *testing.T) {
	ctx := context.Background()
	ms := NewMemory()
	var ve *schema.ValidationError

	if _, err := ms.InsertSession(ctx, &schema.RecoverySession{UserID: "u1", Trigger: schema.TriggerManual, Status: schema.SessionOpen}); !errors.As(err, &ve) || ve.Field != "opened_at" {
		t.Errorf("Expected opened_at validation error, got %v", err)
	}
	if _, err := ms.InsertReport(ctx, &schema.AIReport{UserID: "u1"}); !errors.As(err, &ve) {
		t.Errorf("Expected report validation error, got %v", err)
	}
	if _, err := ms.UpsertSubscription(ctx, &schema.Subscription{Status: schema.StatusActive}); !errors.As(err, &ve) {
		t.Errorf("Expected subscription validation error, got %v", err)
	}
	if err := ms.InsertUsage(ctx, &schema.UsageEvent{UserID: "u1", Event: "login"}); !errors.As(err, &ve) {
		t.Errorf("Expected usage validation error, got %v", err)
	}

	if sessions, _ := ms.ListSessions(ctx, "u1", 0); len(sessions) != 0 {
		t.Errorf("Invalid session was stored")
	}
	if n := len(ms.Usage("u1")); n != 0 {
		t.Errorf("Invalid usage event was stored")
	}
}

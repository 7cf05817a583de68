package checkcode

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DayanFA/MedCheck/internal/clock"
)

// memStore mimics the one-row-per-supervisor semantics of the real table.
type memStore struct {
	codes map[int64]*Code
}

func newMemStore() *memStore {
	return &memStore{codes: make(map[int64]*Code)}
}

func (m *memStore) Active(ctx context.Context, supervisorID int64, now time.Time) (*Code, error) {
	c, ok := m.codes[supervisorID]
	if !ok || !c.ExpiresAt.After(now) {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Mint(ctx context.Context, c Code) (*Code, error) {
	existing, ok := m.codes[c.SupervisorID]
	if ok && existing.ExpiresAt.After(c.GeneratedAt) {
		cp := *existing
		return &cp, nil
	}
	stored := c
	m.codes[c.SupervisorID] = &stored
	cp := stored
	return &cp, nil
}

func (m *memStore) Redeem(ctx context.Context, supervisorID int64, code string, now time.Time) (*Code, error) {
	c, ok := m.codes[supervisorID]
	if !ok || !strings.EqualFold(c.Code, code) {
		return nil, nil
	}
	if c.GeneratedAt.After(now) || !c.ExpiresAt.After(now) {
		return nil, nil
	}
	c.UsageCount++
	c.LastAccessedAt = &now
	cp := *c
	return &cp, nil
}

func (m *memStore) DeleteUnused(ctx context.Context, threshold time.Time) (int64, error) {
	var removed int64
	for id, c := range m.codes {
		if c.UsageCount > 0 {
			continue
		}
		if !c.GeneratedAt.Before(threshold) {
			continue
		}
		if c.LastAccessedAt != nil && !c.LastAccessedAt.Before(threshold) {
			continue
		}
		delete(m.codes, id)
		removed++
	}
	return removed, nil
}

func fixedClock(t time.Time) *time.Time {
	cp := t
	return &cp
}

func newTestService(store Store, at *time.Time) *Service {
	return NewService(store, clock.Func(func() time.Time { return *at }), nil)
}

func TestGetOrCreateIdempotentWithinValidity(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(first.Code) != codeLength {
		t.Fatalf("code length = %d, want %d", len(first.Code), codeLength)
	}
	if first.SecondsRemaining != 60 {
		t.Errorf("SecondsRemaining = %d, want 60", first.SecondsRemaining)
	}

	*now = now.Add(30 * time.Second)
	second, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.Code != first.Code {
		t.Errorf("code rotated inside validity: %q then %q", first.Code, second.Code)
	}
	if second.SecondsRemaining != 30 {
		t.Errorf("SecondsRemaining = %d, want 30", second.SecondsRemaining)
	}
}

func TestGetOrCreateRotatesAfterExpiry(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	*now = now.Add(Validity)
	second, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.Code == first.Code {
		t.Error("expected a fresh code after expiry")
	}
}

func TestPeekWithoutCode(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)

	if _, err := svc.Peek(context.Background(), 7); err != ErrNoActiveCode {
		t.Fatalf("Peek error = %v, want ErrNoActiveCode", err)
	}
}

func TestRedeemCaseInsensitive(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	store := newMemStore()
	svc := newTestService(store, now)
	ctx := context.Background()

	issued, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	redeemed, err := svc.Redeem(ctx, 7, strings.ToLower(issued.Code))
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if redeemed.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", redeemed.UsageCount)
	}
}

func TestRedeemExpiredCode(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)
	ctx := context.Background()

	issued, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	*now = now.Add(Validity + time.Second)
	if _, err := svc.Redeem(ctx, 7, issued.Code); err != ErrCodeInvalidOrExpired {
		t.Fatalf("Redeem error = %v, want ErrCodeInvalidOrExpired", err)
	}
}

func TestRedeemWrongSupervisor(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)
	ctx := context.Background()

	issued, err := svc.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := svc.Redeem(ctx, 8, issued.Code); err != ErrCodeInvalidOrExpired {
		t.Fatalf("Redeem error = %v, want ErrCodeInvalidOrExpired", err)
	}
}

func TestSweepKeepsRedeemedCodes(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	store := newMemStore()
	svc := newTestService(store, now)
	ctx := context.Background()

	used, err := svc.GetOrCreate(ctx, 1)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := svc.Redeem(ctx, 1, used.Code); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if _, err := svc.GetOrCreate(ctx, 2); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	*now = now.Add(25 * time.Minute)
	removed, err := svc.SweepUnused(ctx, 20*time.Minute)
	if err != nil {
		t.Fatalf("SweepUnused: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := store.codes[1]; !ok {
		t.Error("redeemed code was swept")
	}
	if _, ok := store.codes[2]; ok {
		t.Error("unused code survived the sweep")
	}
}

func TestSweepSparesFreshCodes(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	store := newMemStore()
	svc := newTestService(store, now)
	ctx := context.Background()

	if _, err := svc.GetOrCreate(ctx, 1); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	*now = now.Add(10 * time.Minute)
	removed, err := svc.SweepUnused(ctx, 20*time.Minute)
	if err != nil {
		t.Fatalf("SweepUnused: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0", removed)
	}
}

func TestQRProducesPNG(t *testing.T) {
	now := fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, clock.Zone))
	svc := newTestService(newMemStore(), now)

	png, err := svc.QR(context.Background(), 7, 128)
	if err != nil {
		t.Fatalf("QR: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Error("expected PNG output")
	}
}

package ticket

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/transit-fare/internal/model"
)

func TestCanTransition(t *testing.T) {
	statuses := []model.TicketStatus{model.StatusUnused, model.StatusInUse, model.StatusCompleted}
	legal := map[[2]model.TicketStatus]bool{
		{model.StatusUnused, model.StatusInUse}:    true,
		{model.StatusInUse, model.StatusCompleted}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := legal[[2]model.TicketStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestAdvance_FullLifecycle(t *testing.T) {
	tk := &model.Ticket{ID: "t1", Status: model.StatusUnused}

	if err := Advance(tk, model.StatusInUse); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := Advance(tk, model.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if tk.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", tk.Status)
	}
}

func TestAdvance_IllegalLeavesTicketUnchanged(t *testing.T) {
	tests := []struct {
		from, to model.TicketStatus
	}{
		{model.StatusUnused, model.StatusCompleted},
		{model.StatusInUse, model.StatusUnused},
		{model.StatusCompleted, model.StatusInUse},
		{model.StatusCompleted, model.StatusUnused},
		{model.StatusInUse, model.StatusInUse},
	}
	for _, tt := range tests {
		tk := &model.Ticket{ID: "t1", Status: tt.from}
		err := Advance(tk, tt.to)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s → %s: expected ErrIllegalTransition, got %v", tt.from, tt.to, err)
		}
		if tk.Status != tt.from {
			t.Errorf("%s → %s: status changed to %s", tt.from, tt.to, tk.Status)
		}
	}
}

// --- Refunds ---

func TestRefundSchedule_RateAt(t *testing.T) {
	s := DefaultRefundSchedule()
	tests := []struct {
		age  time.Duration
		want string
	}{
		{0, "1"},
		{-time.Minute, "1"},
		{30 * time.Minute, "1"},
		{31 * time.Minute, "0.75"},
		{90 * time.Minute, "0.5"},
		{3 * time.Hour, "0.25"},
		{12 * time.Hour, "0.1"},
		{25 * time.Hour, "0"},
	}
	for _, tt := range tests {
		if got := s.RateAt(tt.age); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RateAt(%s) = %s, want %s", tt.age, got, tt.want)
		}
	}
}

func TestRefundSchedule_Refund(t *testing.T) {
	s := DefaultRefundSchedule()
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tk := &model.Ticket{ID: "t1", PricePaid: 51, IssuedAt: issued, Status: model.StatusUnused}

	tests := []struct {
		after time.Duration
		want  int64
	}{
		{10 * time.Minute, 51},
		{45 * time.Minute, 38},
		{90 * time.Minute, 25},
		{5 * time.Hour, 12},
		{20 * time.Hour, 5},
		{48 * time.Hour, 0},
	}
	for _, tt := range tests {
		got, err := s.Refund(tk, issued.Add(tt.after))
		if err != nil {
			t.Fatalf("Refund after %s: %v", tt.after, err)
		}
		if got != tt.want {
			t.Errorf("Refund after %s = %d, want %d", tt.after, got, tt.want)
		}
	}
}

func TestRefundSchedule_RefundRequiresUnused(t *testing.T) {
	s := DefaultRefundSchedule()
	for _, status := range []model.TicketStatus{model.StatusInUse, model.StatusCompleted} {
		tk := &model.Ticket{ID: "t1", PricePaid: 10, IssuedAt: time.Now(), Status: status}
		if _, err := s.Refund(tk, time.Now()); !errors.Is(err, ErrNotRefundable) {
			t.Errorf("%s: expected ErrNotRefundable, got %v", status, err)
		}
	}
}

func TestRefundSchedule_Validate(t *testing.T) {
	if err := DefaultRefundSchedule().Validate(); err != nil {
		t.Errorf("default schedule invalid: %v", err)
	}

	unordered := RefundSchedule{
		{Within: time.Hour, Rate: decimal.NewFromInt(1)},
		{Within: 30 * time.Minute, Rate: decimal.RequireFromString("0.5")},
	}
	if err := unordered.Validate(); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule for unordered steps, got %v", err)
	}

	tooGenerous := RefundSchedule{{Within: time.Hour, Rate: decimal.RequireFromString("1.5")}}
	if err := tooGenerous.Validate(); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule for rate > 1, got %v", err)
	}
}

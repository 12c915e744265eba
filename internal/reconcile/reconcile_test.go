package reconcile

import (
	"errors"
	"testing"

	"github.com/aasha-care/aasha-relay/internal/model"
)

func TestNext_Transitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		retry     int
		outcome   Outcome
		wantState model.Status
		wantRetry int
	}{
		{"delivered keeps retry count", 1, Delivered, model.Sent, 1},
		{"channel unavailable cancels", 0, ChannelUnavailable, model.Cancelled, 0},
		{"first failure stays pending", 0, DeliveryFailed, model.Pending, 1},
		{"second failure stays pending", 1, DeliveryFailed, model.Pending, 2},
		{"third failure fails", 2, DeliveryFailed, model.Failed, 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Next(model.Pending, tc.retry, tc.outcome)
			if err != nil {
				t.Fatalf("Next() error: %v", err)
			}
			if got.Status != tc.wantState {
				t.Fatalf("expected status %q, got %q", tc.wantState, got.Status)
			}
			if got.RetryCount != tc.wantRetry {
				t.Fatalf("expected retry count %d, got %d", tc.wantRetry, got.RetryCount)
			}
		})
	}
}

func TestNext_PendingNeverReachesRetryLimit(t *testing.T) {
	t.Parallel()

	status := model.Pending
	retry := 0
	for i := 0; i < 10 && status == model.Pending; i++ {
		tr, err := Next(status, retry, DeliveryFailed)
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		status, retry = tr.Status, tr.RetryCount
		if status == model.Pending && retry >= model.MaxRetries {
			t.Fatalf("pending with retry_count=%d", retry)
		}
	}
	if status != model.Failed || retry != model.MaxRetries {
		t.Fatalf("expected failed after %d attempts, got %q retry=%d", model.MaxRetries, status, retry)
	}
}

func TestNext_TerminalStatusesRejectTransitions(t *testing.T) {
	t.Parallel()

	for _, s := range []model.Status{model.Sent, model.Failed, model.Cancelled} {
		for _, o := range []Outcome{Delivered, DeliveryFailed, ChannelUnavailable} {
			_, err := Next(s, 0, o)
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("Next(%s, %s): expected ErrTerminal, got %v", s, o, err)
			}
		}
	}
}

func TestNext_UnknownInputs(t *testing.T) {
	t.Parallel()

	if _, err := Next(model.Status("processing"), 0, Delivered); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if _, err := Next(model.Pending, 0, Outcome(99)); err == nil {
		t.Fatalf("expected error for unknown outcome")
	}
}

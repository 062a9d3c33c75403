package admission

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/Shivanand-hulikatti/campaign-admission/internal/model"
	"github.com/Shivanand-hulikatti/campaign-admission/internal/repository/memory"
)

// Arbitrary concurrent Apply/Withdraw interleavings never push the admitted
// count past capacity and never store two applications for one user.
func TestProperty_CapacityAndUniqueness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 6).Draw(rt, "limit")
		callers := rapid.SliceOfN(rapid.IntRange(0, 9), 1, 40).Draw(rt, "callers")
		withdrawEvery := rapid.IntRange(0, 4).Draw(rt, "withdrawEvery")

		store := memory.NewStore()
		campaign := &model.Campaign{ID: "c", Title: "prop", MaxParticipants: &limit, Active: true}
		if err := store.CreateCampaign(context.Background(), campaign); err != nil {
			rt.Fatalf("create campaign: %v", err)
		}
		c := New(store, WithLogger(quietLogger()))

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			unexpected []error
		)
		for i, u := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				app, err := c.Apply(context.Background(), campaign.ID, fmt.Sprintf("u%d", u), "")
				if err == nil && withdrawEvery > 0 && i%withdrawEvery == 0 {
					_, err = c.Withdraw(context.Background(), app.ID)
				}
				switch OutcomeOf(err) {
				case OutcomeAdmitted, OutcomeFull, OutcomeAlreadyApplied:
				default:
					mu.Lock()
					unexpected = append(unexpected, err)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(unexpected) > 0 {
			rt.Fatalf("unexpected errors: %v", unexpected)
		}

		apps, err := store.ListApplications(context.Background(), campaign.ID)
		if err != nil {
			rt.Fatalf("list: %v", err)
		}
		seen := make(map[string]bool)
		admitted := 0
		for _, app := range apps {
			if seen[app.UserID] {
				rt.Fatalf("duplicate application for %s", app.UserID)
			}
			seen[app.UserID] = true
			if app.Status == model.StatusPending || app.Status == model.StatusApproved {
				admitted++
			}
		}
		if admitted > limit {
			rt.Fatalf("admitted %d exceeds limit %d", admitted, limit)
		}
	})
}

// Without withdrawals the admitted count is exactly min(distinct callers, limit).
func TestProperty_FillsToMinOfCallersAndLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(rt, "limit")
		distinct := rapid.IntRange(1, 20).Draw(rt, "distinct")

		store := memory.NewStore()
		campaign := &model.Campaign{ID: "c", Title: "prop", MaxParticipants: &limit, Active: true}
		if err := store.CreateCampaign(context.Background(), campaign); err != nil {
			rt.Fatalf("create campaign: %v", err)
		}
		c := New(store, WithLogger(quietLogger()))

		var wg sync.WaitGroup
		for i := range distinct {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = c.Apply(context.Background(), campaign.ID, fmt.Sprintf("u%d", i), "")
			}()
		}
		wg.Wait()

		counts, err := store.CountByStatus(context.Background(), campaign.ID)
		if err != nil {
			rt.Fatalf("count: %v", err)
		}
		if got, want := counts[model.StatusPending], min(distinct, limit); got != want {
			rt.Fatalf("pending = %d, want %d", got, want)
		}
	})
}

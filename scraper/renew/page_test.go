package renew

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/zulufoxtrot/renault-renew/utils"
)

// scriptedPage replays a fixed sequence of link counts, one per
// ListingLinks call. The last count repeats once the script is exhausted.
type scriptedPage struct {
	counts  []int
	calls   int
	steps   int
	stepErr error
}

func (p *scriptedPage) Step(ctx context.Context) error {
	p.steps++
	return p.stepErr
}

func (p *scriptedPage) ListingLinks() ([]pageLink, error) {
	idx := p.calls
	if idx >= len(p.counts) {
		idx = len(p.counts) - 1
	}
	p.calls++

	links := make([]pageLink, p.counts[idx])
	for i := range links {
		links[i] = pageLink{Href: fmt.Sprintf("https://fr.renew.auto/detail/%d", i)}
	}
	return links, nil
}

func (p *scriptedPage) HTML() (string, error) {
	return "<html></html>", nil
}

func TestCollectSettlesAfterThreshold(t *testing.T) {
	tests := []struct {
		name      string
		counts    []int
		threshold int
		wantLinks int
		wantCalls int
	}{
		{
			name:      "stable page settles after threshold checks",
			counts:    []int{5, 5, 5, 5},
			threshold: 3,
			wantLinks: 5,
			wantCalls: 4,
		},
		{
			name:      "growth resets the settle counter",
			counts:    []int{2, 4, 4, 6, 6, 6, 6},
			threshold: 3,
			wantLinks: 6,
			wantCalls: 7,
		},
		{
			name:      "threshold of one stops at first no-growth",
			counts:    []int{3, 3},
			threshold: 1,
			wantLinks: 3,
			wantCalls: 2,
		},
		{
			name:      "empty page settles too",
			counts:    []int{0, 0, 0},
			threshold: 2,
			wantLinks: 0,
			wantCalls: 3,
		},
	}

	logger := utils.NewLogger()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &scriptedPage{counts: tt.counts}
			links, _, err := collectListingLinks(context.Background(), page, tt.threshold, 100, logger)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(links) != tt.wantLinks {
				t.Errorf("links: got %d, want %d", len(links), tt.wantLinks)
			}
			if page.calls != tt.wantCalls {
				t.Errorf("link checks: got %d, want %d", page.calls, tt.wantCalls)
			}
		})
	}
}

func TestCollectTimeoutStepCountsAsNoGrowth(t *testing.T) {
	// A timed-out wait makes Step return nil without new content, so the
	// settle counter must still advance and terminate the loop.
	page := &scriptedPage{counts: []int{4}}
	logger := utils.NewLogger()

	links, steps, err := collectListingLinks(context.Background(), page, 2, 100, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(links) != 4 {
		t.Errorf("links: got %d, want 4", len(links))
	}
	if steps != 2 {
		t.Errorf("steps: got %d, want 2", steps)
	}
}

func TestCollectRespectsMaxSteps(t *testing.T) {
	// A page that keeps growing forever must still terminate.
	counts := make([]int, 200)
	for i := range counts {
		counts[i] = i + 1
	}
	page := &scriptedPage{counts: counts}

	_, steps, err := collectListingLinks(context.Background(), page, 3, 5, utils.NewLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if steps != 5 {
		t.Errorf("steps: got %d, want 5", steps)
	}
}

func TestCollectStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &scriptedPage{counts: []int{1, 2, 3}}
	_, _, err := collectListingLinks(ctx, page, 3, 100, utils.NewLogger())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCollectPropagatesStepError(t *testing.T) {
	page := &scriptedPage{counts: []int{1, 2, 3}, stepErr: errors.New("tab crashed")}
	_, _, err := collectListingLinks(context.Background(), page, 3, 100, utils.NewLogger())
	if err == nil {
		t.Fatal("expected an error")
	}
}

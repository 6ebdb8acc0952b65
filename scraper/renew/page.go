package renew

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/zulufoxtrot/renault-renew/utils"
)

// pageLink is one listing anchor as seen on the search page.
type pageLink struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// pageDriver abstracts the loaded search page so the settle loop can be
// exercised with synthetic growth sequences. Step triggers one content-growth
// attempt (scroll plus bounded wait); a wait that times out returns nil,
// because "no new content" is the normal termination signal.
type pageDriver interface {
	Step(ctx context.Context) error
	ListingLinks() ([]pageLink, error)
	HTML() (string, error)
}

// collectListingLinks drives the infinite-scroll page until the set of
// distinct listing links stops growing for settleThreshold consecutive
// checks. maxSteps caps the loop so a page that grows forever cannot hang a
// run. Returns the links, the number of growth steps taken, and any error.
func collectListingLinks(ctx context.Context, page pageDriver, settleThreshold, maxSteps int, logger *utils.Logger) ([]pageLink, int, error) {
	var links []pageLink
	prevCount := -1
	noGrowth := 0
	steps := 0

	for steps < maxSteps {
		if err := ctx.Err(); err != nil {
			return nil, steps, err
		}

		current, err := page.ListingLinks()
		if err != nil {
			return nil, steps, fmt.Errorf("read listing links: %w", err)
		}
		links = current

		if len(current) > prevCount {
			noGrowth = 0
		} else {
			noGrowth++
		}
		prevCount = len(current)

		logger.Debug("[renew] Growth step %d, %d links, %d/%d settled",
			steps, len(current), noGrowth, settleThreshold)

		if noGrowth >= settleThreshold {
			break
		}

		if err := page.Step(ctx); err != nil {
			return nil, steps, fmt.Errorf("growth step: %w", err)
		}
		steps++
	}

	return links, steps, nil
}

// chromePage drives a real browser tab through chromedp.
type chromePage struct {
	ctx        context.Context
	scrollWait time.Duration
}

func (p *chromePage) Step(ctx context.Context) error {
	stepCtx, cancel := context.WithTimeout(p.ctx, p.scrollWait+10*time.Second)
	defer cancel()

	err := chromedp.Run(stepCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(p.scrollWait),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		// Counts toward the settle threshold, not a failure.
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) ListingLinks() ([]pageLink, error) {
	var links []pageLink
	err := chromedp.Run(p.ctx,
		chromedp.Evaluate(`
			(function() {
				var out = [];
				var seen = {};
				var anchors = document.querySelectorAll('a[href]');
				for (var i = 0; i < anchors.length; i++) {
					var a = anchors[i];
					if (!/detail|product/i.test(a.getAttribute('href'))) continue;
					if (seen[a.href]) continue;
					seen[a.href] = true;
					out.push({href: a.href, text: (a.innerText || '').trim()});
				}
				return out;
			})()
		`, &links),
	)
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (p *chromePage) HTML() (string, error) {
	var html string
	err := chromedp.Run(p.ctx,
		chromedp.Evaluate(`document.documentElement.outerHTML`, &html),
	)
	return html, err
}

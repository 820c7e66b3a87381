package ruleengine

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestEngine_OrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		priorities := rapid.SliceOfN(rapid.IntRange(-5, 5), 1, 20).Draw(t, "priorities")

		var got []int
		e := New(nil)
		for i, p := range priorities {
			idx := i
			r := passing(fmt.Sprintf("r%d", i), p)
			r.onRun = func(*Context) { got = append(got, idx) }
			e.Register(r)
		}

		if _, perr := e.ExecuteRules(context.Background(), request("GET", "/"), "", ""); perr != nil {
			t.Fatalf("unexpected failure: %v", perr)
		}

		want := make([]int, len(priorities))
		for i := range want {
			want[i] = i
		}
		slices.SortStableFunc(want, func(a, b int) int { return priorities[a] - priorities[b] })

		if !slices.Equal(got, want) {
			t.Fatalf("execution order %v, want %v", got, want)
		}
	})
}

func TestRateLimitRule_NeverExceedsLimitProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		gaps := rapid.SliceOfN(rapid.IntRange(0, 3000), 1, 60).Draw(t, "gapsMillis")

		clock := newManualClock()
		window := 10 * time.Second
		rule := NewRateLimitRule(RuleConfig{ID: "rl", Enabled: true}, RateLimitOptions{
			Limit:  limit,
			Window: window,
			Store:  newMapCounters(),
			Clock:  clock,
		})

		var windowStart time.Time
		allowed := 0
		for _, gap := range gaps {
			clock.Advance(time.Duration(gap) * time.Millisecond)

			res, err := rule.Execute(context.Background(), NewContext(request("GET", "/"), "", ""))
			if err != nil {
				t.Fatal(err)
			}

			info := rateLimitInfo(res, "rl")
			start := time.Unix(info["reset"].(int64), 0).Add(-window)
			if !start.Equal(windowStart) {
				windowStart, allowed = start, 0
			}
			if res.Passed {
				allowed++
			}
			if allowed > limit {
				t.Fatalf("%d requests allowed in one window, limit %d", allowed, limit)
			}
		}
	})
}

package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrijs2005/gophstore/internal/tracker"
)

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// follow subscribes to every transfer the running command registers and
// prints a line whenever its status or percentage changes. The returned
// func stops following and waits for the printers to exit.
func (a *App) follow(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		seen := map[string]bool{}
		ticker := time.NewTicker(a.progressEvery)
		defer ticker.Stop()
		for {
			for _, t := range a.tracker.List() {
				if seen[t.ID] || t.Status.Terminal() {
					continue
				}
				seen[t.ID] = true
				ch, unsubscribe := a.tracker.Subscribe(t.ID)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer unsubscribe()
					a.printUpdates(ctx, ch)
				}()
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (a *App) printUpdates(ctx context.Context, ch <-chan tracker.Transfer) {
	lastStatus, lastProgress := tracker.Status(""), -1
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			if t.Status == lastStatus && t.Progress == lastProgress {
				continue
			}
			lastStatus, lastProgress = t.Status, t.Progress
			a.printf("%s\n", progressLine(t))
		}
	}
}

func progressLine(t tracker.Transfer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-24s %3d%%", t.Status, t.Name, t.Progress)
	if t.TotalSize > 0 {
		fmt.Fprintf(&b, "  %s/%s", humanize.IBytes(uint64(t.Loaded)), humanize.IBytes(uint64(t.TotalSize)))
	}
	if t.Rate > 0 {
		fmt.Fprintf(&b, "  %s/s", humanize.IBytes(uint64(t.Rate)))
	}
	if t.ETA != nil {
		fmt.Fprintf(&b, "  eta %s", t.ETA.Round(time.Second))
	}
	if t.Error != "" {
		fmt.Fprintf(&b, "  %s", t.Error)
	}
	return b.String()
}

// logMetrics writes the transfer counters gathered during this run at debug
// level.
func (a *App) logMetrics(ctx context.Context) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		a.logger.Warn(ctx, "failed to gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "gophstore_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			kv := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				kv = append(kv, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				kv = append(kv, "value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				kv = append(kv, "value", m.GetGauge().GetValue())
			}
			a.logger.Debug(ctx, "metric", kv...)
		}
	}
}

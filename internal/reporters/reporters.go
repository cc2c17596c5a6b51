// Package reporters delivers buildset completion notifications to external
// services.
package reporters

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/mq"
	"github.com/zulandar/buildyard/internal/results"
)

// Reporter receives one callback per completed buildset.
type Reporter interface {
	Name() string
	BuildsetComplete(ctx context.Context, bs *buildsets.Buildset) error
}

// Runner bridges the message bus to the configured reporters. It subscribes
// to buildset completion events and fans each one out to every reporter.
// A reporter failure is logged and does not block the others.
type Runner struct {
	bus       *mq.Bus
	buildsets *buildsets.Service
	reporters []Reporter
}

// NewRunner creates a Runner over the given reporters.
func NewRunner(bus *mq.Bus, bs *buildsets.Service, reporters []Reporter) *Runner {
	return &Runner{bus: bus, buildsets: bs, reporters: reporters}
}

// Run blocks until ctx is cancelled, dispatching completion events as they
// arrive. It returns immediately if no reporters are configured.
func (r *Runner) Run(ctx context.Context) {
	if len(r.reporters) == 0 {
		return
	}
	sub := r.bus.Subscribe("buildsets/*/complete")
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			r.dispatch(ctx, msg)
		}
	}
}

// dispatch resolves the completed buildset and notifies every reporter.
func (r *Runner) dispatch(ctx context.Context, msg mq.Message) {
	bsid, err := bsidFromTopic(msg.Topic)
	if err != nil {
		log.Printf("reporters: %v", err)
		return
	}
	bs, err := r.buildsets.Get(bsid)
	if err != nil {
		log.Printf("reporters: load buildset %d: %v", bsid, err)
		return
	}
	if bs == nil {
		log.Printf("reporters: buildset %d vanished before reporting", bsid)
		return
	}
	for _, rep := range r.reporters {
		if err := rep.BuildsetComplete(ctx, bs); err != nil {
			log.Printf("reporters: %s: buildset %d: %v", rep.Name(), bsid, err)
		}
	}
}

// bsidFromTopic extracts the buildset id from a buildsets/{bsid}/complete
// topic.
func bsidFromTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "buildsets" {
		return 0, fmt.Errorf("reporters: unexpected topic %q", topic)
	}
	bsid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("reporters: unexpected topic %q", topic)
	}
	return bsid, nil
}

// resultCode unwraps the buildset's aggregate result, defaulting to Unset
// when the pointer is nil.
func resultCode(bs *buildsets.Buildset) int {
	if bs.Results == nil {
		return results.Unset
	}
	return *bs.Results
}

// summaryLine renders the one-line human summary shared by the chat
// reporters.
func summaryLine(bs *buildsets.Buildset) string {
	return fmt.Sprintf("Buildset %d finished: %s (%s)",
		bs.BSID, results.Name(resultCode(bs)), bs.Reason)
}

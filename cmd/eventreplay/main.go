// Command eventreplay rebuilds the in-memory session.Store cache from the
// append-only event log, demonstrating the event-log-as-source-of-truth
// invariant (spec §4.6/§9: the event log is authoritative history, the
// session store is a rebuildable cache). Adapted from the teacher's
// test-janitor command, which exercised a live server connection end to
// end; this tool exercises the event log end to end instead.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/emergent-company/ctrlmcp/internal/capability"
	"github.com/emergent-company/ctrlmcp/internal/eventlog"
	"github.com/emergent-company/ctrlmcp/internal/session"
)

func main() {
	path := flag.String("events", ".ctrlmcp/events.jsonl", "path to the event log JSONL file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	events, err := eventlog.ReadAll(*path)
	if err != nil {
		logger.Error("failed to read event log", "path", *path, "error", err)
		os.Exit(1)
	}
	logger.Info("read event log", "path", *path, "events", len(events))

	store := rebuild(events)

	units := store.All()
	fmt.Printf("rebuilt %d work unit(s) from %d event(s)\n\n", len(units), len(events))
	for _, u := range units {
		fmt.Printf("runSessionId=%s workId=%s state=%s agents=%d prompt=%q\n",
			u.RunSessionID, u.WorkID, u.State, len(u.Agents), u.OriginalPrompt)
	}
}

// rebuild replays every event into a fresh session.Store in the same order
// the controller produced them, reconstructing work-unit state purely from
// the log. This mirrors the controller's own step-1 session-tuple
// resolution and the output_envelope payload's recorded state, without
// re-running any plan validation or verb dispatch — replay is a read-only
// audit trail, not a plan re-execution.
func rebuild(events []eventlog.Event) *session.Store {
	store := session.NewStore()
	for _, e := range events {
		if e.RunSessionID == "" || e.WorkID == "" {
			continue
		}
		unit, _ := store.EnsureWorkUnit(e.RunSessionID, e.WorkID, eventTime(e))
		unit.Lock()
		if e.AgentID != "" {
			unit.EnsureAgent(e.AgentID, eventTime(e))
		}
		switch e.Type {
		case eventlog.OutputEnvelope:
			if s, ok := e.Payload["state"].(string); ok {
				unit.State = capability.State(s)
			}
		case eventlog.InputEnvelope:
			if prompt, ok := e.Payload["prompt"].(string); ok {
				unit.SetOriginalPromptOnce(prompt)
			}
		}
		unit.Unlock()
	}
	return store
}

func eventTime(e eventlog.Event) time.Time {
	if e.Timestamp.IsZero() {
		return time.Now()
	}
	return e.Timestamp
}

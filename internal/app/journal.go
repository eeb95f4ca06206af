package app

import (
	"context"
	"encoding/json"
	"time"

	"rtcore/internal/eventbus"
	"rtcore/internal/gc"
	"rtcore/internal/storage"
	"rtcore/internal/task/scheduler"
	logx "rtcore/pkg/logx"
)

// journalEntry maps a bus event to a journal record. Steps that did no work
// are dropped so an idle host does not grow the journal.
func journalEntry(runID string, e eventbus.Event) (storage.Entry, bool) {
	entry := storage.Entry{At: e.Time, RunID: runID, Type: e.Type}
	switch d := e.Data.(type) {
	case scheduler.TaskEvent:
		entry.Subject = d.Name + "#" + d.ID
		entry.Error = d.Error
	case gc.ObjectEvent:
		entry.Subject = d.Handle
		entry.Error = d.Error
	case scheduler.StepEvent:
		if d.Executed == 0 {
			return storage.Entry{}, false
		}
	case gc.StepEvent:
		if d.Destroyed == 0 {
			return storage.Entry{}, false
		}
	case scheduler.ClearEvent:
		if d.Dropped == 0 {
			return storage.Entry{}, false
		}
	}
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			entry.Detail = string(b)
		}
	}
	return entry, true
}

// runJournal drains events into store until ctx is done or the channel closes.
func runJournal(ctx context.Context, log logx.Logger, store storage.Store, runID string, events <-chan eventbus.Event) error {
	write := func(e eventbus.Event) {
		entry, ok := journalEntry(runID, e)
		if !ok {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Append(wctx, entry); err != nil {
			log.Warn("journal append failed", logx.String("type", e.Type), logx.Err(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			// flush what is already buffered
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return nil
					}
					write(e)
				default:
					return nil
				}
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			write(e)
		}
	}
}

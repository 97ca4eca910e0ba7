package executor

import (
	"context"

	"github.com/ajitpratap0/titanfleet/internal/exchange"
)

type multiJournal []Journal

// MultiJournal fans journal hooks out to several sinks: the Postgres
// journal, the event publisher and the alert notifier all ride the same
// executor hook. Nil entries are skipped; with no live sink the result
// is nil, which the executor treats as journaling disabled.
func MultiJournal(journals ...Journal) Journal {
	active := make(multiJournal, 0, len(journals))
	for _, j := range journals {
		if j != nil {
			active = append(active, j)
		}
	}

	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	default:
		return active
	}
}

func (m multiJournal) RecordOrder(ctx context.Context, req exchange.OrderRequest, status exchange.OrderStatus, message string) {
	for _, j := range m {
		j.RecordOrder(ctx, req, status, message)
	}
}

func (m multiJournal) RecordFill(ctx context.Context, fill exchange.FillConfirmation) {
	for _, j := range m {
		j.RecordFill(ctx, fill)
	}
}

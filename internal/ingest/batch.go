package ingest

import (
	"context"
	"sync"

	"litground/internal/models"
	"litground/internal/util"

	"golang.org/x/sync/errgroup"
)

type Upload struct {
	Name string
	Data []byte
	DOI  string
}

type Outcome struct {
	Index    int
	Name     string
	Document models.Document
	Err      error
}

// Status is "ingested", "duplicate" or "failed".
func (o Outcome) Status() string {
	switch {
	case o.Err == nil:
		return "ingested"
	case util.KindOf(o.Err) == util.KindDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// IngestBatch ingests uploads with up to Options.Parallelism files in flight.
// A failing file never stops the others. onProgress, if set, sees outcomes in
// upload order regardless of completion order.
func (in *Ingester) IngestBatch(ctx context.Context, uploads []Upload, onProgress func(Outcome)) []Outcome {
	out := make([]Outcome, len(uploads))
	done := make([]bool, len(uploads))
	next := 0
	var mu sync.Mutex

	report := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		done[i] = true
		for next < len(out) && done[next] {
			if onProgress != nil {
				onProgress(out[next])
			}
			next++
		}
	}

	var g errgroup.Group
	g.SetLimit(in.opts.Parallelism)
	for i, u := range uploads {
		g.Go(func() error {
			o := Outcome{Index: i, Name: u.Name}
			if err := ctx.Err(); err != nil {
				o.Err = err
			} else {
				o.Document, o.Err = in.Ingest(ctx, u.Data, u.DOI)
			}
			if o.Err != nil {
				in.log.Warn("batch file not ingested", "file", u.Name, "status", o.Status(), "error", o.Err)
			}
			out[i] = o
			report(i)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

package harvest

import (
	"log/slog"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/scraper"
)

// slot holds the outcome of one category until the emitter reaches it.
type slot struct {
	done    chan struct{}
	outcome categoryOutcome
}

// emitter forwards category records in enumeration order, whatever order the
// categories finish in. The first occurrence of an id across the site wins.
type emitter struct {
	sink    Sink
	keep    bool
	metrics *scraper.Metrics

	seen       map[string]struct{}
	dataset    *models.SiteDataset
	emitted    int
	duplicates int
	err        error
	onError    func()
}

func newEmitter(site models.Site, sink Sink, keep bool, metrics *scraper.Metrics) *emitter {
	e := &emitter{
		sink:    sink,
		keep:    keep,
		metrics: metrics,
		seen:    make(map[string]struct{}),
	}
	if keep {
		e.dataset = &models.SiteDataset{Site: site}
	}
	return e
}

// drain waits on every slot in order. Records of a slot are released once
// emitted unless they are kept in memory.
func (e *emitter) drain(slots []*slot) {
	for _, s := range slots {
		<-s.done
		e.emit(s.outcome.records)
		s.outcome.records = nil
	}
}

func (e *emitter) emit(records []*models.ProductRecord) {
	batch := make([]*models.ProductRecord, 0, len(records))
	dups := 0
	for _, r := range records {
		if r == nil {
			continue
		}
		if _, dup := e.seen[r.ID]; dup {
			dups++
			continue
		}
		e.seen[r.ID] = struct{}{}
		batch = append(batch, r)
	}
	e.duplicates += dups
	e.metrics.AddDuplicates(dups)
	if len(batch) == 0 {
		return
	}

	e.emitted += len(batch)
	if e.keep {
		e.dataset.Records = append(e.dataset.Records, batch...)
	}
	if e.sink == nil || e.err != nil {
		return
	}
	if err := e.sink.Process(batch...); err != nil {
		slog.Error("export sink rejected records", slog.Any("error", err))
		e.err = err
		if e.onError != nil {
			e.onError()
		}
	}
}

package connector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/drivepoint/source-quickbooks/pkg/archive"
	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/connector/registry"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
	"github.com/drivepoint/source-quickbooks/pkg/metrics"
	"github.com/drivepoint/source-quickbooks/pkg/observability"
	"github.com/drivepoint/source-quickbooks/pkg/protocol"
	"github.com/drivepoint/source-quickbooks/pkg/quickbooks"
)

// Read emits the records and state of every stream in catalog, one stream
// after another in catalog order
func (s *Source) Read(ctx context.Context, cfg *config.SourceConfig, catalog *protocol.ConfiguredCatalog, state protocol.StateSet) error {
	if err := s.validate(cfg); err != nil {
		return err
	}
	if catalog == nil || len(catalog.Streams) == 0 {
		return errors.New(errors.ErrorTypeConfig, "configured catalog has no streams")
	}

	enabled := make(map[string]registry.StreamDefinition)
	for _, def := range s.enabledStreams(cfg) {
		enabled[def.Name] = def
	}
	defs := make([]registry.StreamDefinition, len(catalog.Streams))
	for i, cs := range catalog.Streams {
		def, ok := enabled[cs.Stream.Name]
		if !ok {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("stream %s is not available", cs.Stream.Name)).
				WithDetail("stream", cs.Stream.Name)
		}
		defs[i] = def
	}

	sess, err := s.connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	var arch archive.Archiver
	if cfg.ArchiveURI != "" {
		arch, err = s.openArchive(ctx, cfg.ArchiveURI)
		if err != nil {
			return err
		}
		defer func() {
			if err := arch.Close(); err != nil {
				s.logger.Warn("failed to close archive", zap.Error(err))
			}
		}()
	}

	tracer := observability.NewConnectorTracer("source-quickbooks", "read")
	for i, cs := range catalog.Streams {
		r := &streamReader{
			source:     s,
			session:    sess,
			archive:    arch,
			tracer:     tracer,
			flattener:  quickbooks.NewFlattener(s.logger),
			def:        defs[i],
			cfg:        cfg,
			configured: cs,
			logger:     s.logger.With(zap.String("stream", cs.Stream.Name)),
		}
		attrs := map[string]interface{}{
			"stream":    cs.Stream.Name,
			"sync_mode": string(cs.SyncMode),
		}
		if s.runID != "" {
			attrs["run_id"] = s.runID
		}
		err := tracer.Trace(ctx, "stream", attrs, func(ctx context.Context) error {
			return r.read(ctx, state[cs.Stream.Name])
		})
		if err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "failed to read stream "+cs.Stream.Name).
				WithDetail("stream", cs.Stream.Name)
		}
	}
	return nil
}

// streamReader reads one configured stream
type streamReader struct {
	source     *Source
	session    *session
	archive    archive.Archiver
	tracer     *observability.ConnectorTracer
	flattener  *quickbooks.Flattener
	def        registry.StreamDefinition
	cfg        *config.SourceConfig
	configured protocol.ConfiguredStream
	logger     *zap.Logger
}

type sliceResult struct {
	slice   Slice
	records []quickbooks.AccountRecord
}

func (r *streamReader) incremental() bool {
	return r.configured.SyncMode == protocol.SyncModeIncremental
}

func (r *streamReader) read(ctx context.Context, raw []byte) error {
	timer := metrics.NewTimer()
	name := r.def.Name

	start, _ := r.cfg.Start()
	end := r.cfg.End(r.source.now())
	all, err := BuildSlices(start, end, r.cfg.SlicePeriod)
	if err != nil {
		return err
	}

	var cursor time.Time
	if r.incremental() {
		if cursor, err = ParseCursor(raw); err != nil {
			return err
		}
	}
	pending := PendingSlices(all, cursor)

	r.logger.Info("reading stream",
		zap.String("sync_mode", string(r.configured.SyncMode)),
		zap.Int("slices", len(all)),
		zap.Int("pending", len(pending)))

	if len(pending) == 0 {
		if r.incremental() && !cursor.IsZero() {
			return r.source.emitter.StreamState(name, NewCursor(cursor), 0)
		}
		return nil
	}

	total, err := fetchInOrder(ctx, r.cfg.Reliability.MaxConcurrency, pending, r.fetchSlice, func(res sliceResult) error {
		for i := range res.records {
			if err := r.source.emitter.Record(name, &res.records[i]); err != nil {
				return err
			}
		}
		if m := r.source.metrics; m != nil {
			m.RecordsEmitted(name, len(res.records))
			m.SliceCompleted(name)
		}
		if r.incremental() {
			return r.source.emitter.StreamState(name, NewCursor(res.slice.End), int64(len(res.records)))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !r.incremental() {
		if err := r.source.emitter.StreamState(name, NewCursor(end), int64(total)); err != nil {
			return err
		}
	}

	elapsed := timer.Stop()
	if m := r.source.metrics; m != nil {
		m.StreamFinished(name, elapsed)
	}
	r.logger.Info("stream complete",
		zap.Int("records", total),
		zap.Duration("duration", elapsed))
	return nil
}

// fetchInOrder fetches slices concurrently and hands the results to emit in
// slice order. At most workers fetches are in flight and at most twice that
// many slices are held unemitted.
func fetchInOrder(
	ctx context.Context,
	workers int,
	slices []Slice,
	fetch func(context.Context, Slice) (sliceResult, error),
	emit func(sliceResult) error,
) (int, error) {
	if workers < 1 {
		workers = 1
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	window := make(chan struct{}, workers*2)
	order := make(chan chan sliceResult, len(slices))
	launched := make(chan struct{})

	go func() {
		defer close(launched)
		defer close(order)
		for _, sl := range slices {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			out := make(chan sliceResult, 1)
			order <- out
			sl := sl
			g.Go(func() error {
				res, err := fetch(gctx, sl)
				if err != nil {
					return err
				}
				out <- res
				return nil
			})
		}
	}()

	total := 0
	var emitErr error
consume:
	for out := range order {
		select {
		case res := <-out:
			if err := emit(res); err != nil {
				emitErr = err
				cancel()
				break consume
			}
			total += len(res.records)
			<-window
		case <-gctx.Done():
			break consume
		}
	}

	<-launched
	waitErr := g.Wait()
	// the first worker error is the one that cancelled the group
	switch {
	case emitErr != nil:
		return total, emitErr
	case waitErr != nil:
		return total, waitErr
	case parent.Err() != nil:
		return total, parent.Err()
	}
	return total, nil
}

func (r *streamReader) fetchSlice(ctx context.Context, sl Slice) (sliceResult, error) {
	res := sliceResult{slice: sl}
	err := r.tracer.TraceSlice(ctx, r.def.Name, sl.StartDate(), sl.EndDate(), func(ctx context.Context) (int, error) {
		resp, err := r.session.reports.FetchReport(ctx, quickbooks.ReportRequest{
			Report:            r.def.Report,
			StartDate:         sl.StartDate(),
			EndDate:           sl.EndDate(),
			SummarizeColumnBy: r.cfg.SummarizeColumnBy,
		})
		if err != nil {
			return 0, err
		}
		r.archiveRaw(ctx, sl, resp.Raw)
		res.records = r.flattener.Flatten(resp.Report)
		return len(res.records), nil
	})
	if err != nil {
		r.logger.Error("slice failed",
			zap.String("start_date", sl.StartDate()),
			zap.String("end_date", sl.EndDate()),
			zap.Error(err))
	}
	return res, err
}

// archiveRaw stores the raw response. Failures are logged and do not stop
// the sync.
func (r *streamReader) archiveRaw(ctx context.Context, sl Slice, raw []byte) {
	if r.archive == nil || len(raw) == 0 {
		return
	}
	key := archive.Key(r.def.Name, r.session.realmID, sl.StartDate(), sl.EndDate(), r.source.now())
	err := r.archive.Put(ctx, key, raw)
	if m := r.source.metrics; m != nil {
		m.ArchiveWrite(r.archive.Backend(), err)
	}
	if err != nil {
		r.logger.Warn("failed to archive report", zap.String("key", key), zap.Error(err))
	}
}

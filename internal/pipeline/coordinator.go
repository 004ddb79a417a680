// Package pipeline coordinates a detection ingestion run: download a
// product for a region, process it, parse the detections, store them once
// and tell the requesting client how it went.
//
// Runs are detached from the request that started them. Their only output
// is what they send through the Notifier.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/semaphore"

	"github.com/shipwatch/shipwatch/internal/datastore"
	"github.com/shipwatch/shipwatch/internal/detection"
	"github.com/shipwatch/shipwatch/internal/errors"
	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/notification"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// Messages sent over the notification channel.
const (
	MessageSuccess = "success"
	MessageUpdate  = "update_ships"
)

const (
	componentName = "pipeline"

	defaultMaxConcurrent = 2

	errNoProduct = "no product found for the requested region and dates"
)

// Acquirer finds and downloads the newest product covering region between
// start and end. An empty path means nothing was found.
type Acquirer interface {
	Acquire(ctx context.Context, region orb.Geometry, start, end time.Time) (string, error)
}

// Processor turns a downloaded product into detection outputs next to it.
type Processor interface {
	Process(ctx context.Context, productPath string) error
}

// ParseFunc reads the processed outputs of a product into a Tile.
type ParseFunc func(productPath string) (*detection.Tile, error)

// Store is the write side of the detection store.
type Store interface {
	InsertTileIfAbsent(ctx context.Context, tile *detection.Tile) error
	RemoveDuplicateDetections(ctx context.Context) (datastore.DedupResult, error)
}

// Notifier delivers messages to connected clients.
type Notifier interface {
	SendToClient(ctx context.Context, clientID, message string, onNotFound notification.NotFoundFunc)
	Broadcast(ctx context.Context, message string)
}

// Publisher receives an Event for every finished run.
type Publisher interface {
	PublishIngestion(ctx context.Context, event *Event) error
}

// Alerter is told about runs that failed for reasons an operator should
// look at.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}

// Request describes one run.
type Request struct {
	RunID    string
	ClientID string
	Region   orb.Geometry
	Start    time.Time
	End      time.Time
}

// Outcome is the result of Run.
type Outcome struct {
	RunID string
	// State is StateDone or StateError.
	State State
	// FailedIn is the state the run was in when it failed.
	FailedIn    State
	ProductPath string
	Dataset     string
	Detections  int
	Dedup       datastore.DedupResult
	Err         error
	Duration    time.Duration
}

// Coordinator runs pipelines. It is safe for concurrent use.
type Coordinator struct {
	acquirer  Acquirer
	processor Processor
	parse     ParseFunc
	store     Store
	notifier  Notifier

	publisher  Publisher
	alerter    Alerter
	onIngested []func()

	logger   logger.Logger
	recorder metrics.Recorder
	runs     *metrics.PipelineMetrics

	maxConcurrent int64
	sem           *semaphore.Weighted
	wg            sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records stage and run metrics.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Coordinator) {
		if m == nil {
			return
		}
		c.recorder = m
		c.runs = m
	}
}

// WithMaxConcurrent bounds the number of runs executing at once. Values
// below one are ignored.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrent = int64(n)
		}
	}
}

// WithPublisher publishes an event after every run.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithAlerter reports infrastructure failures to operators.
func WithAlerter(a Alerter) Option {
	return func(c *Coordinator) { c.alerter = a }
}

// WithIngestHook registers fn to run after new detections were stored.
func WithIngestHook(fn func()) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.onIngested = append(c.onIngested, fn)
		}
	}
}

// New creates a coordinator over the given collaborators.
func New(acquirer Acquirer, processor Processor, parse ParseFunc, store Store, notifier Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		acquirer:      acquirer,
		processor:     processor,
		parse:         parse,
		store:         store,
		notifier:      notifier,
		recorder:      metrics.NopRecorder{},
		maxConcurrent: defaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Global().Module(componentName)
	}
	c.sem = semaphore.NewWeighted(c.maxConcurrent)
	return c
}

// StartPipeline starts a run in the background and returns immediately.
// The run is not tied to the caller's lifetime and cannot be cancelled;
// its result reaches clientID through the notifier. When the concurrency
// limit is reached the run waits for a slot.
func (c *Coordinator) StartPipeline(region orb.Geometry, clientID string, start, end time.Time) {
	req := Request{
		RunID:    uuid.NewString(),
		ClientID: clientID,
		Region:   region,
		Start:    start,
		End:      end,
	}

	c.logger.Info("pipeline queued",
		logger.String("run_id", req.RunID),
		logger.String("client_id", clientID),
		logger.Time("start", start),
		logger.Time("end", end))

	c.wg.Go(func() {
		ctx := context.Background()
		if err := c.sem.Acquire(ctx, 1); err != nil {
			// only possible with a cancelled context
			return
		}
		defer c.sem.Release(1)
		c.Run(ctx, req)
	})
}

// Wait blocks until every run started by StartPipeline has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Run executes one pipeline synchronously and reports the result to the
// requesting client. Panics are recovered and reported like errors.
func (c *Coordinator) Run(ctx context.Context, req Request) (outcome Outcome) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	log := c.logger.With(
		logger.String("run_id", req.RunID),
		logger.String("client_id", req.ClientID))

	started := time.Now()
	outcome = Outcome{RunID: req.RunID, State: StateIdle}
	if c.runs != nil {
		c.runs.RunStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("pipeline run panicked: %v", r).
				Component(componentName).
				Category(errors.CategoryState).
				Priority(errors.PriorityCritical).
				Context("run_id", req.RunID).
				Context("state", outcome.State.String()).
				Build()
			log.Error("recovered from panic in pipeline run",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			c.guard("failure report", log, func() {
				c.fail(ctx, req, &outcome, err, log)
			})
		}

		outcome.Duration = time.Since(started)
		if c.runs != nil {
			status := metrics.StatusSuccess
			if outcome.State == StateError {
				status = metrics.StatusError
			}
			c.runs.RunFinished(status)
		}
		log.Info("pipeline finished",
			logger.String("state", outcome.State.String()),
			logger.Duration("duration", outcome.Duration))
	}()

	if err := c.execute(ctx, req, &outcome, log); err != nil {
		c.fail(ctx, req, &outcome, err, log)
		return outcome
	}

	// the tile is stored, so nothing past this point can fail the run
	c.transition(&outcome, StateNotifying, log)
	c.guard("client notification", log, func() {
		c.notifier.SendToClient(ctx, req.ClientID, MessageSuccess, c.clientNotFound)
	})
	c.guard("broadcast", log, func() {
		c.notifier.Broadcast(ctx, MessageUpdate)
	})
	for _, hook := range c.onIngested {
		c.guard("ingest hook", log, hook)
	}
	c.guard("event publish", log, func() {
		c.publish(ctx, req, &outcome, log)
	})

	c.transition(&outcome, StateDone, log)
	return outcome
}

// execute walks the stages up to and including the dedup sweep.
func (c *Coordinator) execute(ctx context.Context, req Request, outcome *Outcome, log logger.Logger) error {
	var productPath string
	err := c.stage(outcome, StateDownloading, log, func() error {
		path, err := c.acquirer.Acquire(ctx, req.Region, req.Start, req.End)
		if err != nil {
			return err
		}
		if path == "" {
			return errors.AcquisitionError(componentName, errNoProduct)
		}
		productPath = path
		return nil
	})
	if err != nil {
		return err
	}
	outcome.ProductPath = productPath

	if err := c.stage(outcome, StateProcessing, log, func() error {
		return c.processor.Process(ctx, productPath)
	}); err != nil {
		return err
	}

	var tile *detection.Tile
	if err := c.stage(outcome, StateParsing, log, func() error {
		var err error
		tile, err = c.parse(productPath)
		return err
	}); err != nil {
		return err
	}
	outcome.Dataset = tile.Dataset

	if err := c.stage(outcome, StateStoring, log, func() error {
		return c.store.InsertTileIfAbsent(ctx, tile)
	}); err != nil {
		return err
	}
	outcome.Detections = len(tile.Detections)
	if c.runs != nil {
		c.runs.AddDetectionsStored(outcome.Detections)
	}

	return c.stage(outcome, StateDeduping, log, func() error {
		res, err := c.store.RemoveDuplicateDetections(ctx)
		outcome.Dedup = res
		return err
	})
}

// stage moves the run into state, runs fn and records how it went.
func (c *Coordinator) stage(outcome *Outcome, state State, log logger.Logger, fn func() error) error {
	c.transition(outcome, state, log)

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	op := state.String()
	c.recorder.RecordDuration(op, elapsed.Seconds())
	if err != nil {
		c.recorder.RecordOperation(op, metrics.StatusError)
		c.recorder.RecordError(op, string(errorCategory(err)))
		outcome.FailedIn = state
		return err
	}
	c.recorder.RecordOperation(op, metrics.StatusSuccess)
	log.Debug("stage completed", logger.String("state", op), logger.Duration("duration", elapsed))
	return nil
}

func (c *Coordinator) transition(outcome *Outcome, next State, log logger.Logger) {
	log.Info("pipeline state changed",
		logger.String("from", outcome.State.String()),
		logger.String("to", next.String()))
	outcome.State = next
}

// fail reports err to the requesting client. Nothing is broadcast.
func (c *Coordinator) fail(ctx context.Context, req Request, outcome *Outcome, err error, log logger.Logger) {
	if outcome.State != StateError {
		if !outcome.State.Terminal() && outcome.FailedIn == StateIdle {
			outcome.FailedIn = outcome.State
		}
		c.transition(outcome, StateError, log)
	}
	outcome.Err = err

	if errors.IsBusinessOutcome(err) {
		log.Info("pipeline ended without new data",
			logger.String("failed_in", outcome.FailedIn.String()),
			logger.Error(err))
	} else {
		log.Error("pipeline failed",
			logger.String("failed_in", outcome.FailedIn.String()),
			logger.Error(err))
	}

	c.notifier.SendToClient(ctx, req.ClientID, err.Error(), c.clientNotFound)

	if c.alerter != nil && !errors.IsBusinessOutcome(err) {
		title := fmt.Sprintf("Ingestion failed while %s", outcome.FailedIn)
		if alertErr := c.alerter.Alert(ctx, title, err.Error()); alertErr != nil {
			log.Warn("failed to send operator alert", logger.Error(alertErr))
		}
	}
	c.publish(ctx, req, outcome, log)
}

func (c *Coordinator) publish(ctx context.Context, req Request, outcome *Outcome, log logger.Logger) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishIngestion(ctx, newEvent(req, outcome)); err != nil {
		log.Warn("failed to publish ingestion event", logger.Error(err))
	}
}

// guard runs fn and turns a panic into an error log, so side effects after
// the outcome is decided cannot change it.
func (c *Coordinator) guard(what string, log logger.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Newf("%s panicked: %v", what, r).
				Component(componentName).
				Category(errors.CategoryState).
				Build()
			log.Error("recovered from panic after pipeline outcome",
				logger.String("step", what),
				logger.Error(err),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// clientNotFound is the fallback for messages that could not be delivered.
func (c *Coordinator) clientNotFound(clientID, message string) {
	c.logger.Warn(fmt.Sprintf("Error for client with ID(%s): %s", clientID, message))
}

func errorCategory(err error) errors.ErrorCategory {
	var enhanced *errors.EnhancedError
	if errors.As(err, &enhanced) && enhanced.Category != "" {
		return enhanced.Category
	}
	return errors.CategoryGeneric
}

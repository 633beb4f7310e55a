package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sleepywoodpecker/arff-collector/internal/dataset"
	"sleepywoodpecker/arff-collector/internal/features"
	"sleepywoodpecker/arff-collector/internal/persistence"
	"sleepywoodpecker/arff-collector/internal/processing"
)

var (
	ErrSensorDisabled = errors.New("sensor not enabled for the current dataset")
	ErrNotRecording   = errors.New("recording is off, sample dropped")
)

// DiscardedError reports rows still queued when the collector shut down.
type DiscardedError struct {
	Count uint64
}

func (e *DiscardedError) Error() string {
	return fmt.Sprintf("[collector] %d queued rows discarded at shutdown", e.Count)
}

type Config struct {
	DatasetName        string
	Sensors            dataset.SensorSet
	NormalizeGyroscope bool
	DefaultLabel       dataset.Label
	StartRecording     bool
	QueueSize          int
	DrainTimeout       time.Duration
	SizeReportInterval time.Duration
}

// Collector turns samples into dataset rows and exposes the dataset operations to a front end.
type Collector struct {
	cfg       Config
	registry  *dataset.Registry
	worker    *persistence.Worker
	processor *processing.Processor
	logger    *zap.Logger

	labelMutex sync.RWMutex
	label      dataset.Label
	recording  bool

	clientID uuid.UUID
}

func New(cfg Config, registry *dataset.Registry, worker *persistence.Worker, logger *zap.Logger) *Collector {
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = dataset.AllSensors
	}
	if cfg.SizeReportInterval <= 0 {
		cfg.SizeReportInterval = 5 * time.Second
	}
	cfg.DatasetName = dataset.WithSuffix(cfg.DatasetName)

	return &Collector{
		cfg:       cfg,
		registry:  registry,
		worker:    worker,
		processor: processing.NewProcessor(worker, cfg.QueueSize, cfg.DrainTimeout, logger),
		logger:    logger,
		label:     cfg.DefaultLabel,
		recording: cfg.StartRecording,
	}
}

// Open attaches to the worker and makes the configured dataset current, creating it when missing.
func (c *Collector) Open() error {
	id, err := c.worker.Attach()
	if err != nil {
		return err
	}
	c.clientID = id

	loaded, err := c.worker.Load(c.cfg.DatasetName)
	switch {
	case err == nil:
		if len(loaded.Sensors) == 0 {
			loaded.Sensors = c.cfg.Sensors
		}
		c.registry.SetCurrent(loaded)
		c.logger.Info("[collector] dataset loaded", zap.String("dataset", loaded.Name), zap.Int64("bytes", loaded.Size))
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		_, err = c.CreateDataset(c.cfg.DatasetName)
		return err
	default:
		return err
	}
}

// Run writes ingested rows and reports the dataset size until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.processor.Run(ctx)
	})
	g.Go(func() error {
		return processing.NewSampler(c.cfg.SizeReportInterval, c, c.processor, c.logger).Run(ctx)
	})

	return g.Wait()
}

// Close detaches from the worker. Call it after Run has returned.
func (c *Collector) Close() error {
	var err error

	stats := c.processor.Stats()
	c.logger.Info(
		"[collector] closing",
		zap.Uint64("written", stats.Written),
		zap.Uint64("dropped", stats.Dropped),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("discarded", stats.Discarded),
	)
	if stats.Discarded > 0 {
		err = multierr.Append(err, &DiscardedError{Count: stats.Discarded})
	}
	if c.clientID != uuid.Nil {
		err = multierr.Append(err, c.worker.Detach(c.clientID))
		c.clientID = uuid.Nil
	}
	return err
}

// CreateDataset creates an empty dataset with the collector's header and makes it current.
func (c *Collector) CreateDataset(name string) (dataset.Dataset, error) {
	return c.worker.Create(dataset.WithSuffix(name), dataset.Header(c.cfg.Sensors), c.cfg.Sensors)
}

func (c *Collector) CurrentDataset() dataset.Dataset {
	return c.registry.Current()
}

func (c *Collector) SetLabel(label dataset.Label) {
	c.labelMutex.Lock()
	defer c.labelMutex.Unlock()

	c.label = label
}

func (c *Collector) Label() dataset.Label {
	c.labelMutex.RLock()
	defer c.labelMutex.RUnlock()

	return c.label
}

// StartRecording lets samples from the sources through Ingest.
func (c *Collector) StartRecording() {
	c.setRecording(true)
}

func (c *Collector) StopRecording() {
	c.setRecording(false)
}

func (c *Collector) setRecording(on bool) {
	c.labelMutex.Lock()
	defer c.labelMutex.Unlock()

	if c.recording != on {
		c.logger.Info("[collector] recording toggled", zap.Bool("recording", on), zap.String("label", string(c.label)))
	}
	c.recording = on
}

func (c *Collector) Recording() bool {
	c.labelMutex.RLock()
	defer c.labelMutex.RUnlock()

	return c.recording
}

// Ingest records a sample from a source under the currently selected label.
// While recording is off the sample is dropped with ErrNotRecording.
func (c *Collector) Ingest(x, y, z float64, sensor dataset.SensorTag) error {
	c.labelMutex.RLock()
	recording, label := c.recording, c.label
	c.labelMutex.RUnlock()

	if !recording {
		return ErrNotRecording
	}
	return c.IngestSample(x, y, z, label, sensor)
}

// IngestSample extracts the features of one sample and queues the row for the current dataset.
// It never blocks on I/O; a full queue drops the row and returns processing.ErrQueueOverflow.
func (c *Collector) IngestSample(x, y, z float64, label dataset.Label, sensor dataset.SensorTag) error {
	current := c.registry.Current()

	sensors := current.Sensors
	if len(sensors) == 0 {
		sensors = c.cfg.Sensors
	}
	if !sensors.Contains(sensor) {
		return fmt.Errorf("%w: %s", ErrSensorDisabled, sensor)
	}

	if sensor == dataset.Gyroscope && c.cfg.NormalizeGyroscope {
		x, y, z = features.Normalize(x, y, z)
	}

	line := dataset.FormatRecord(features.Extract(x, y, z), label, sensor)
	return c.processor.Enqueue(processing.Row{Dataset: current.Name, Line: line})
}

// ExportCurrent reloads the current dataset from disk and exports it below externalRoot.
func (c *Collector) ExportCurrent(externalRoot string) (string, error) {
	current := c.registry.Current()

	loaded, err := c.worker.Load(current.Name)
	if err != nil {
		return "", err
	}
	loaded.Sensors = current.Sensors

	c.registry.Update(func(d dataset.Dataset) dataset.Dataset {
		if d.Name == loaded.Name {
			return loaded
		}
		return d
	})

	return c.worker.ExportTo(loaded, externalRoot)
}

// DeleteCurrent removes the current dataset file and starts a fresh one under the same name.
// It reports whether the old file was removed.
func (c *Collector) DeleteCurrent() (bool, error) {
	current := c.registry.Current()

	deleted, err := c.worker.Delete(current.Name)
	if err != nil {
		return false, err
	}
	if _, err := c.CreateDataset(current.Name); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// SizeOfCurrent returns the current dataset's name and its size in whole kilobytes.
func (c *Collector) SizeOfCurrent() (string, int64, error) {
	current := c.registry.Current()

	kb, err := c.worker.Size(current.Name)
	return current.Name, kb, err
}

func (c *Collector) Stats() processing.Stats {
	return c.processor.Stats()
}

func (c *Collector) WorkerState() persistence.State {
	return c.worker.State()
}

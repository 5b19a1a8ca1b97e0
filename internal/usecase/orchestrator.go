package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facemoji/internal/crop"
	"github.com/example/facemoji/internal/facelocator"
	"github.com/example/facemoji/internal/imageprocessor"
	"github.com/example/facemoji/internal/logging"
	"github.com/example/facemoji/internal/repository"
	"github.com/example/facemoji/internal/taskstore"
)

// DefaultMaxImagePixels caps width*height of an accepted upload.
const DefaultMaxImagePixels = 40_000_000

// writeTimeout bounds the terminal store write and the outcome log write,
// which must happen even when the task itself ran out of time.
const writeTimeout = 10 * time.Second

// FaceLocator finds the primary face of an image.
type FaceLocator interface {
	Locate(ctx context.Context, img image.Image) (facelocator.Region, error)
}

// Generator turns the face stored at facePath into the final image reference.
type Generator interface {
	Generate(ctx context.Context, taskID, facePath string) (string, error)
}

// TaskLogRepository defines the persistence operations for task outcomes.
type TaskLogRepository interface {
	SaveLog(ctx context.Context, log *repository.TaskLog) error
	FindByTaskID(ctx context.Context, taskID string) (*repository.TaskLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Dependencies are the collaborators of an Orchestrator. Logs is optional.
type Dependencies struct {
	Store     taskstore.Store
	Locator   FaceLocator
	Planner   crop.Planner
	Generator Generator
	Logs      TaskLogRepository
}

// Options tune an Orchestrator.
type Options struct {
	// UploadDir holds the per-task temporary files.
	UploadDir string
	// OutputSize is the side of the square face image sent to generation.
	OutputSize uint
	// TaskTimeout bounds one worker execution.
	TaskTimeout time.Duration
	// MaxImagePixels rejects uploads whose header declares more pixels,
	// before anything is decoded.
	MaxImagePixels int64
	Pool           WorkerPoolConfig
}

// Orchestrator admits submissions, runs each task on the worker pool and is
// the only writer of task terminal states.
type Orchestrator struct {
	store     taskstore.Store
	locator   FaceLocator
	planner   crop.Planner
	generator Generator
	logs      TaskLogRepository
	opts      Options
	pool      *WorkerPool
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewOrchestrator wires an Orchestrator and creates the upload directory.
// Call Start before submitting.
func NewOrchestrator(deps Dependencies, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil || deps.Locator == nil || deps.Generator == nil {
		return nil, errors.New("orchestrator requires a store, a face locator and a generator")
	}
	if opts.UploadDir == "" {
		return nil, errors.New("orchestrator requires an upload directory")
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}
	if opts.MaxImagePixels <= 0 {
		opts.MaxImagePixels = DefaultMaxImagePixels
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	o := &Orchestrator{
		store:     deps.Store,
		locator:   deps.Locator,
		planner:   deps.Planner,
		generator: deps.Generator,
		logs:      deps.Logs,
		opts:      opts,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	o.pool = NewWorkerPool(opts.Pool, o.process, logger)
	return o, nil
}

// Start launches the workers.
func (o *Orchestrator) Start() {
	o.pool.Start()
}

// Shutdown stops admission and waits for accepted tasks to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.pool.Stop(ctx)
}

// Submit validates the upload, stores it under a task-scoped path and queues
// the task. It never waits for processing.
func (o *Orchestrator) Submit(ctx context.Context, filename string, data []byte) (string, error) {
	if filename == "" {
		return "", ErrMissingFilename
	}
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	info, err := imageprocessor.Inspect(data)
	if err != nil {
		o.logger.Debug("rejected undecodable upload", zap.String("filename", filename), zap.Error(err))
		return "", ErrUndecodableImage
	}
	if int64(info.Width)*int64(info.Height) > o.opts.MaxImagePixels {
		o.logger.Info("rejected oversized image",
			zap.String("filename", filename),
			zap.Int("width", info.Width),
			zap.Int("height", info.Height),
			zap.Int64("max_pixels", o.opts.MaxImagePixels))
		return "", ErrImageTooLarge
	}

	taskID := o.newID()
	opLogger := logging.WithOperation(o.logger, "usecase.submit", taskID)

	upload := newArtifact(o.opts.UploadDir, taskID, "-upload"+imageprocessor.Extension(info.Format), o.logger)
	if err := os.WriteFile(upload.path, data, 0o600); err != nil {
		upload.Release()
		wrapped := logging.NewOperationError("usecase.save_upload", taskID, err)
		opLogger.Error("failed to store upload", zap.Error(wrapped))
		return "", wrapped
	}

	job := Job{TaskID: taskID, Filename: filename, UploadPath: upload.path, SubmittedAt: o.now()}
	if err := o.pool.Submit(job); err != nil {
		upload.Release()
		opLogger.Warn("task rejected", zap.Error(err))
		return "", err
	}

	opLogger.Info("task accepted",
		zap.String("filename", filename),
		zap.String("format", info.Format),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height))
	return taskID, nil
}

// Poll consumes the terminal state of taskID. Tasks without one, including
// unknown and already consumed ids, are reported as pending.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) (taskstore.View, error) {
	view, ok, err := o.store.TakeIfTerminal(ctx, taskID)
	if err != nil {
		return taskstore.View{}, logging.NewOperationError("usecase.poll", taskID, err)
	}
	if !ok {
		return taskstore.Pending(taskID), nil
	}
	return view, nil
}

// process is the worker body. Temporary files are gone before the terminal
// state becomes visible.
func (o *Orchestrator) process(workerID int, job Job) {
	opLogger := logging.WithOperation(o.logger, "usecase.process_task", job.TaskID).
		With(zap.Int("worker_id", workerID))
	started := o.now()
	opLogger.Info("processing task", zap.Duration("queued_for", started.Sub(job.SubmittedAt)))

	result, err := o.execute(job, opLogger)

	finished := o.now()
	var view taskstore.View
	if err != nil {
		view = taskstore.Failed(job.TaskID, err, finished)
		opLogger.Warn("task failed", zap.Error(err), zap.Duration("elapsed", finished.Sub(started)))
	} else {
		view = taskstore.Completed(job.TaskID, result, finished)
		opLogger.Info("task completed", zap.String("result", result), zap.Duration("elapsed", finished.Sub(started)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := o.store.SetTerminal(ctx, view); err != nil {
		opLogger.Error("failed to record terminal state", zap.Error(err))
	}
	o.recordOutcome(ctx, view, finished.Sub(job.SubmittedAt), opLogger)
}

// execute runs the pipeline, turning panics into errors and releasing every
// artifact of the task on the way out.
func (o *Orchestrator) execute(job Job, opLogger *zap.Logger) (result string, err error) {
	upload := artifact{path: job.UploadPath, logger: o.logger}
	face := newArtifact(o.opts.UploadDir, job.TaskID, "-face.jpg", o.logger)
	defer upload.Release()
	defer face.Release()

	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.TaskTimeout)
	defer cancel()

	return o.runPipeline(ctx, job.TaskID, upload.path, face.path)
}

func (o *Orchestrator) runPipeline(ctx context.Context, taskID, uploadPath, facePath string) (string, error) {
	img, err := imageprocessor.OpenImage(uploadPath)
	if err != nil {
		return "", logging.NewOperationError("usecase.open_upload", taskID, err)
	}

	region, err := o.locator.Locate(ctx, img)
	if err != nil {
		if errors.Is(err, facelocator.ErrNoFace) || errors.Is(err, facelocator.ErrLowConfidence) {
			return "", err
		}
		return "", logging.NewOperationError("usecase.locate_face", taskID, err)
	}

	bounds := img.Bounds()
	window := o.planner.Plan(region, bounds.Dx(), bounds.Dy())
	faceImg := crop.Extract(img, window, o.opts.OutputSize)
	if err := imageprocessor.SaveJPEG(facePath, faceImg, imageprocessor.DefaultJPEGQuality); err != nil {
		return "", logging.NewOperationError("usecase.save_face", taskID, err)
	}

	return o.generator.Generate(ctx, taskID, facePath)
}

func (o *Orchestrator) recordOutcome(ctx context.Context, view taskstore.View, latency time.Duration, opLogger *zap.Logger) {
	if o.logs == nil {
		return
	}
	log := &repository.TaskLog{
		TaskID:    view.ID,
		Status:    string(view.Status),
		Result:    view.Result,
		Error:     view.Error,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: view.FinishedAt.UTC(),
	}
	if err := o.logs.SaveLog(ctx, log); err != nil {
		opLogger.Warn("failed to persist task outcome", zap.Error(err))
	}
}

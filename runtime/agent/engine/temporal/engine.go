package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// Options configures the Temporal engine adapter. Either a pre-configured
// Client or ClientOptions must be provided.
type Options struct {
	// Client is an optional pre-configured Temporal client. When nil the
	// adapter creates a lazy client from ClientOptions and installs the OTEL
	// interceptors and the correlation propagator on it. A caller-provided
	// client must be configured with NewCorrelationPropagator to carry task
	// correlation across workflow boundaries.
	Client client.Client

	// ClientOptions describe how to construct the Temporal client when Client is nil.
	ClientOptions *client.Options

	// WorkerOptions configures the default task queue and worker settings.
	WorkerOptions WorkerOptions

	// Instrumentation toggles OTEL tracing and metrics for the client and workers.
	Instrumentation InstrumentationOptions

	// DisableWorkerAutoStart disables automatic worker startup on first
	// workflow execution. Call Worker().Start() explicitly when set.
	DisableWorkerAutoStart bool

	// Logger emits worker logs. Defaults to a noop logger.
	Logger telemetry.Logger

	// Metrics records heartbeat counts. Defaults to a noop recorder.
	Metrics telemetry.Metrics
}

// WorkerOptions configures the shared worker settings applied to all task
// queues managed by the engine.
type WorkerOptions struct {
	// TaskQueue is the default queue name used when workflow/activity definitions
	// omit a queue. Required.
	TaskQueue string

	// Options are passed to worker.New.
	Options worker.Options
}

// InstrumentationOptions configures how the engine wires OpenTelemetry
// tracing and metrics into the Temporal client and workers. Both are enabled
// by default.
type InstrumentationOptions struct {
	DisableTracing bool
	DisableMetrics bool
	TracerOptions  temporalotel.TracerOptions
	MetricsOptions temporalotel.MetricsHandlerOptions
}

// Engine implements engine.Engine using Temporal as the durable execution
// backend. All methods are safe for concurrent use.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue      string
	workerOpts        worker.Options
	autoStartDisabled bool

	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu              sync.Mutex
	workers         map[string]*workerBundle
	workersStarted  bool
	workflows       map[string]engine.WorkflowDefinition
	activityOptions map[string]engine.ActivityOptions

	workflowContexts sync.Map // runID -> engine.WorkflowContext
	baseContexts     sync.Map // runID -> context.Context
}

var _ engine.Engine = (*Engine)(nil)

// New constructs a Temporal engine adapter.
func New(opts Options) (*Engine, error) {
	defaultQueue := opts.WorkerOptions.TaskQueue
	if defaultQueue == "" {
		return nil, errors.New("temporal engine: worker options must include a default task queue")
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		clientOpts.ContextPropagators = append(clientOpts.ContextPropagators, NewCorrelationPropagator())
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions.Options
	applyWorkerInstrumentation(&workerOpts, inst)

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      defaultQueue,
		workerOpts:        workerOpts,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            telemetry.LoggerOrNoop(opts.Logger),
		metrics:           telemetry.MetricsOrNoop(opts.Metrics),
		workers:           make(map[string]*workerBundle),
		workflows:         make(map[string]engine.WorkflowDefinition),
		activityOptions:   make(map[string]engine.ActivityOptions),
	}, nil
}

// RegisterWorkflow registers a workflow definition with the worker of its
// task queue (the engine default when empty).
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return errors.New("temporal engine: workflow name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("temporal engine: workflow %q has no handler", def.Name)
	}
	e.mu.Lock()
	if _, exists := e.workflows[def.Name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	e.mu.Unlock()

	bundle, err := e.workerForQueue(def.TaskQueue)
	if err != nil {
		return err
	}
	bundle.worker.RegisterWorkflowWithOptions(e.workflowFunc(def), workflow.RegisterOptions{Name: def.Name})
	return nil
}

// RegisterInvokeActivity registers the invoke activity with the worker of
// its queue. The options become the defaults applied when a workflow
// schedules the activity.
func (e *Engine) RegisterInvokeActivity(_ context.Context, def engine.InvokeActivityDefinition) error {
	if def.Name == "" {
		return errors.New("temporal engine: activity name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("temporal engine: activity %q has no handler", def.Name)
	}
	bundle, err := e.workerForQueue(def.Options.Queue)
	if err != nil {
		return err
	}
	bundle.worker.RegisterActivityWithOptions(e.activityFunc(def), activity.RegisterOptions{Name: def.Name})

	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()
	return nil
}

// StartWorkflow launches a new workflow execution. The task queue resolves
// in order: req.TaskQueue, the definition queue, the engine default. The
// caller context is kept so activities of the run inherit its values when
// they execute in this process.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, errors.New("temporal engine: workflow name is required")
	}
	def, err := e.workflowDefinition(req.Workflow)
	if err != nil {
		return nil, err
	}
	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}
	opts := client.StartWorkflowOptions{
		ID:          req.ID,
		TaskQueue:   queue,
		RetryPolicy: convertRetryPolicy(req.RetryPolicy),
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow %q: %w", def.Name, err)
	}
	e.baseContexts.Store(run.GetRunID(), context.WithoutCancel(ctx))
	return &workflowHandle{run: run, client: e.client}, nil
}

// Worker returns a controller for the lifecycle of all workers managed by
// this engine.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client if the engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) workflowFunc(def engine.WorkflowDefinition) func(workflow.Context, *api.InvokeRequest) (*api.InvokeResult, error) {
	return func(tctx workflow.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		defer e.releaseWorkflowContext(wfCtx.RunID())
		return def.Handler(wfCtx, req)
	}
}

func (e *Engine) activityFunc(def engine.InvokeActivityDefinition) func(context.Context, *api.InvokeRequest) (*api.InvokeResult, error) {
	return func(actx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
		runID, wfCtx := e.lookupWorkflowContext(actx)
		if base := e.workflowBaseContext(runID); base != nil {
			actx = telemetry.MergeContext(actx, base)
		}
		if wfCtx != nil {
			actx = engine.WithWorkflowContext(actx, wfCtx)
		}
		actx = engine.WithActivityContext(actx)
		actx = engine.WithHeartbeater(actx, engine.HeartbeaterFunc(func(hctx context.Context, details ...any) {
			activity.RecordHeartbeat(hctx, details...)
			e.metrics.IncCounter(telemetry.MetricHeartbeatsRecorded, 1, "activity", def.Name)
		}))
		return def.Handler(actx, req)
	}
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, errors.New("temporal engine: no task queue configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if bundle, ok := e.workers[queue]; ok {
		return bundle, nil
	}
	bundle := &workerBundle{
		queue:  queue,
		worker: worker.New(e.client, queue, e.workerOpts),
		logger: e.logger,
	}
	e.workers[queue] = bundle
	if e.workersStarted {
		bundle.start()
	}
	return bundle, nil
}

func (e *Engine) workflowDefinition(name string) (engine.WorkflowDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.workflows[name]
	if !ok {
		return engine.WorkflowDefinition{}, fmt.Errorf("temporal engine: workflow %q is not registered", name)
	}
	return def, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

func (e *Engine) trackWorkflowContext(runID string, wf engine.WorkflowContext) {
	if runID != "" {
		e.workflowContexts.Store(runID, wf)
	}
}

func (e *Engine) releaseWorkflowContext(runID string) {
	if runID == "" {
		return
	}
	e.workflowContexts.Delete(runID)
	e.baseContexts.Delete(runID)
}

func (e *Engine) lookupWorkflowContext(ctx context.Context) (string, engine.WorkflowContext) {
	runID := activity.GetInfo(ctx).WorkflowExecution.RunID
	if runID == "" {
		return "", nil
	}
	if wf, ok := e.workflowContexts.Load(runID); ok {
		if typed, ok := wf.(engine.WorkflowContext); ok {
			return runID, typed
		}
	}
	return runID, nil
}

func (e *Engine) workflowBaseContext(runID string) context.Context {
	if runID == "" {
		return nil
	}
	if base, ok := e.baseContexts.Load(runID); ok {
		if ctx, ok := base.(context.Context); ok {
			return ctx
		}
	}
	return nil
}

// WorkerController manages the lifecycle of the engine workers.
type WorkerController struct {
	engine *Engine
}

// Start launches all registered workers. Workers created afterwards start
// as soon as they are created.
func (c *WorkerController) Start() {
	c.engine.ensureWorkersStarted()
}

// Stop gracefully stops all workers managed by the engine.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()
	for _, b := range bundles {
		b.worker.Stop()
	}
}

type workerBundle struct {
	queue  string
	worker worker.Worker
	logger telemetry.Logger

	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

type instrumentation struct {
	tracer  interceptor.Interceptor
	metrics client.MetricsHandler
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst != nil && inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context) (*api.InvokeResult, error) {
	var out *api.InvokeResult
	if err := h.run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

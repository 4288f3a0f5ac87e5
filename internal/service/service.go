package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayops/agent-runtime/internal/delivery"
	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
	"github.com/relayops/agent-runtime/internal/heartbeat"
	"github.com/relayops/agent-runtime/internal/pool"
	"github.com/relayops/agent-runtime/internal/queue"
)

// Params bundles the collaborators and tuning knobs of the orchestrator.
// Archive is optional; everything else is required.
type Params struct {
	Queue      *queue.TaskQueue
	Pool       *pool.WorkerPool
	Router     *delivery.Router
	Transport  domain.Transport
	Resolver   domain.AgentResolver
	Archive    domain.ResultArchive
	Heartbeats []domain.HeartbeatConfig

	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	LoopStopTimeout time.Duration
	// ResultStreamMirror publishes results onto the result stream even when a
	// different delivery channel is configured.
	ResultStreamMirror bool
}

// Status is a point-in-time snapshot of the runtime, with no side effects.
type Status struct {
	Running        bool `json:"running"`
	QueueDepth     int  `json:"queue_depth"`
	ActiveWorkers  int  `json:"active_workers"`
	AvailableSlots int  `json:"available_slots"`
	Heartbeats     int  `json:"heartbeats"`
}

// Service owns the queue, pool, router, transport and heartbeat scheduler,
// runs the consume-and-execute and listen-and-enqueue loops, and exposes the
// submit/status operations.
type Service struct {
	queue     *queue.TaskQueue
	pool      *pool.WorkerPool
	router    *delivery.Router
	transport domain.Transport
	resolver  domain.AgentResolver
	archive   domain.ResultArchive
	hb        *heartbeat.Scheduler

	heartbeats         []domain.HeartbeatConfig
	taskTimeout        time.Duration
	shutdownTimeout    time.Duration
	loopStopTimeout    time.Duration
	resultStreamMirror bool

	running    atomic.Bool
	loopCancel context.CancelFunc
	loopsWg    sync.WaitGroup
}

func New(p Params) *Service {
	s := &Service{
		queue:              p.Queue,
		pool:               p.Pool,
		router:             p.Router,
		transport:          p.Transport,
		resolver:           p.Resolver,
		archive:            p.Archive,
		heartbeats:         p.Heartbeats,
		taskTimeout:        p.TaskTimeout,
		shutdownTimeout:    p.ShutdownTimeout,
		loopStopTimeout:    p.LoopStopTimeout,
		resultStreamMirror: p.ResultStreamMirror,
	}
	s.hb = heartbeat.New(s.SubmitTask)
	return s
}

// Start connects the transport, recovers durably mirrored tasks, starts the
// heartbeats and launches the two background loops. A transport connection
// failure is fatal and returned to the caller.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errval.ErrAlreadyRunning
	}

	if err := s.transport.Connect(ctx); err != nil {
		s.running.Store(false)
		return fmt.Errorf("connect transport: %w", err)
	}

	recovered, err := s.queue.Recover(ctx)
	if err != nil {
		slog.Error("Durable mirror recovery failed, continuing with an empty queue", "error", err.Error())
	} else if recovered > 0 {
		slog.Info("Recovered tasks from the durable mirror", "count", recovered)
	}

	for _, cfg := range s.heartbeats {
		s.hb.Register(cfg)
	}
	s.hb.Start()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel

	s.loopsWg.Add(2)
	go s.consumerLoop(loopCtx)
	go s.listenerLoop(loopCtx)

	slog.Info("Service started")
	return nil
}

// consumerLoop dispatches queued tasks into the worker pool. It waits for a
// free slot before dequeuing so that queue priority decides which task runs
// next, and it never awaits task completion.
func (s *Service) consumerLoop(ctx context.Context) {
	defer s.loopsWg.Done()

	for {
		if err := s.pool.WaitSlot(ctx); err != nil {
			return
		}

		task, err := s.queue.Get(ctx)
		if err != nil {
			return
		}

		// Executions are not children of the loop context: stopping the loops
		// must not cancel work that is already running. Forced cancellation is
		// the pool's job during shutdown.
		if err := s.pool.Submit(context.Background(), func(wctx context.Context) {
			s.executeTask(wctx, task)
		}); err != nil {
			slog.Error("Worker pool rejected a task", "task_id", task.TaskID, "error", err.Error())
			s.queue.TaskDone()
			return
		}
	}
}

// listenerLoop consumes the transport's task sequence, enqueues each task and
// only then acknowledges the message. A crash between read and enqueue means
// redelivery, which execution must tolerate.
func (s *Service) listenerLoop(ctx context.Context) {
	defer s.loopsWg.Done()

	for task := range s.transport.Listen(ctx) {
		messageID := task.Metadata[domain.TransportMessageIDKey]

		if err := s.SubmitTask(task); err != nil {
			slog.Error("Failed to enqueue task from the transport", "task_id", task.TaskID, "error", err.Error())
			continue
		}

		if messageID == "" {
			continue
		}
		if err := s.transport.Ack(ctx, messageID); err != nil {
			slog.Error("Failed to acknowledge transport message", "task_id", task.TaskID, "message_id", messageID, "error", err.Error())
		}
	}
}

// SubmitTask is the single submission path shared by producers, heartbeats
// and the listener loop. It rejects submissions while the service is not
// running, marks the task queued and pushes it onto the queue.
func (s *Service) SubmitTask(task *domain.AgentTask) error {
	if !s.running.Load() {
		return errval.ErrNotRunning
	}

	domain.NormalizeTask(task)
	task.Status = domain.Queued
	s.queue.Put(context.Background(), task)
	slog.Info("Task queued", "task_id", task.TaskID, "agent_name", task.AgentName, "priority", task.Priority)
	return nil
}

// executeTask runs inside a worker slot: it resolves the agent, invokes it
// under the task timeout, builds exactly one TaskResult, delivers it, and
// removes the task's durable mirror entry. Task-level failures are captured
// in the result and never escape to the loops.
func (s *Service) executeTask(ctx context.Context, task *domain.AgentTask) {
	defer s.queue.TaskDone()

	task.Status = domain.Running
	start := time.Now()

	output, err := s.invokeAgent(ctx, task)

	result := &domain.TaskResult{
		TaskID:           task.TaskID,
		AgentName:        task.AgentName,
		ExecutionTimeMs:  time.Since(start).Milliseconds(),
		Metadata:         task.Metadata,
		CompletedAtStamp: time.Now().UTC().Unix(),
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		task.Status = domain.Failed
		slog.Error("Task execution failed", "task_id", task.TaskID, "agent_name", task.AgentName, "error", err.Error())
	} else {
		result.Success = true
		result.Output = output
		task.Status = domain.Completed
		slog.Info("Task execution completed", "task_id", task.TaskID, "agent_name", task.AgentName, "execution_time_ms", result.ExecutionTimeMs)
	}

	if delivered := s.router.Deliver(ctx, task, result); !delivered {
		slog.Warn("Result delivery reported failure", "task_id", task.TaskID)
	}

	s.publishResult(ctx, task, result)

	if s.archive != nil {
		if err := s.archive.InsertResult(ctx, result); err != nil {
			slog.Error("Failed to archive result", "task_id", task.TaskID, "error", err.Error())
		}
	}

	s.queue.RemovePersisted(ctx, task)
}

// publishResult writes the result onto the result stream. When the configured
// delivery channel is the stream itself the router no-ops and the publish
// happens here; for every other channel it happens when mirroring is on.
func (s *Service) publishResult(ctx context.Context, task *domain.AgentTask, result *domain.TaskResult) {
	streamChannel := task.Delivery != nil && task.Delivery.Channel == domain.ChannelStream
	if !streamChannel && !s.resultStreamMirror {
		return
	}

	if _, err := s.transport.PublishResult(ctx, result); err != nil {
		slog.Error("Failed to publish result to the result stream", "task_id", task.TaskID, "error", err.Error())
	}
}

func (s *Service) invokeAgent(ctx context.Context, task *domain.AgentTask) (string, error) {
	handle, err := s.resolver.Resolve(task.AgentName)
	if err != nil {
		return "", fmt.Errorf("resolve agent %q: %w", task.AgentName, err)
	}

	tctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	type invocation struct {
		response any
		err      error
	}

	done := make(chan invocation, 1)
	go func() {
		response, err := handle.Invoke(tctx, task.Prompt, domain.InvokeOptions{
			UserID:     task.UserID,
			SessionID:  task.SessionID,
			MethodName: task.MethodName,
		})
		done <- invocation{response: response, err: err}
	}()

	select {
	case inv := <-done:
		if inv.err != nil {
			return "", inv.err
		}
		return ExtractText(inv.response), nil
	case <-tctx.Done():
		return "", fmt.Errorf("task execution timeout after %s", s.taskTimeout)
	}
}

// Stop flips the running flag, stops the heartbeats and the listener, waits
// for the loops, drains the worker pool, then closes the router and the
// transport last so in-flight deliveries are not starved.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.hb.Stop()
	s.transport.Stop()

	if s.loopCancel != nil {
		s.loopCancel()
	}

	loopsDone := make(chan struct{})
	go func() {
		s.loopsWg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-time.After(s.loopStopTimeout):
		slog.Warn("Background loops did not stop within the timeout")
	}

	s.pool.Shutdown(s.shutdownTimeout)

	s.router.Close()
	if err := s.transport.Close(); err != nil {
		slog.Error("Error occurred while closing the transport", "error", err.Error())
	}

	slog.Info("Service stopped")
}

// GetStatus returns a snapshot for operational monitoring.
func (s *Service) GetStatus() Status {
	return Status{
		Running:        s.running.Load(),
		QueueDepth:     s.queue.Len(),
		ActiveWorkers:  s.pool.ActiveCount(),
		AvailableSlots: s.pool.AvailableSlots(),
		Heartbeats:     s.hb.Count(),
	}
}

// IsHealthy reports transport health for the readiness surface.
func (s *Service) IsHealthy() bool {
	return s.running.Load() && s.transport.IsHealthy()
}

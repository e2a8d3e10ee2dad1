// Package executor runs registered workflows on the engine and normalizes
// their outcome into invocation results.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/schema"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/session"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// SessionSource hands out engine sessions.
type SessionSource interface {
	Get(ctx context.Context, instanceURL string) (*session.Session, error)
	Refresh(ctx context.Context, instanceURL string, stale *session.Session) (*session.Session, error)
}

// Describer resolves workflows to their tool schema.
type Describer interface {
	Cached(workflowID string) *models.ToolSchema
	Describe(ctx context.Context, workflowID string) (*schema.Descriptor, error)
}

// Options tune invocation behaviour.
type Options struct {
	// Timeout bounds a whole invocation, from argument check to the final poll.
	Timeout     time.Duration
	PollInitial time.Duration
	PollMax     time.Duration
	// MaxRetries is the number of retries on transient engine failures.
	MaxRetries int
}

// Executor is the Invocation Executor.
type Executor struct {
	engine   engine.Engine
	sessions SessionSource
	resolver Describer
	opts     Options
	logger   *logging.Logger

	invocations metric.Int64Counter
	duration    metric.Float64Histogram
}

// New creates a new Executor. Metrics are recorded with the global meter provider.
func New(eng engine.Engine, sessions SessionSource, resolver Describer, opts Options, logger *logging.Logger) (*Executor, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.PollInitial <= 0 {
		opts.PollInitial = 250 * time.Millisecond
	}
	if opts.PollMax < opts.PollInitial {
		opts.PollMax = opts.PollInitial
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	meter := otel.Meter("github.com/ai-Ev1lC0rP/N8N2MCP/internal/executor")
	invocations, err := meter.Int64Counter("bridge.invocations",
		metric.WithDescription("Workflow tool invocations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation counter: %w", err)
	}
	duration, err := meter.Float64Histogram("bridge.invocation.duration",
		metric.WithDescription("Workflow tool invocation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Executor{
		engine:      eng,
		sessions:    sessions,
		resolver:    resolver,
		opts:        opts,
		logger:      logger.With("component", "executor"),
		invocations: invocations,
		duration:    duration,
	}, nil
}

// Invoke runs the workflow of reg with args and waits for its result.
func (e *Executor) Invoke(ctx context.Context, reg *models.Registration, args map[string]any) (*models.InvocationResult, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	logger := e.logger.With("workflowId", reg.WorkflowID, "tenantKey", errs.Mask(reg.TenantKey))
	result, err := e.invoke(ctx, reg, args, logger)

	outcome := models.InvocationOK
	if err != nil {
		err = e.classify(ctx, err)
		outcome = string(errs.KindOf(err))
		logger.Warn("Invocation failed", "kind", outcome, "error", err, "duration", time.Since(started))
	} else {
		logger.Info("Invocation completed", "executionId", result.ExecutionID, "duration", time.Since(started))
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("workflow_id", reg.WorkflowID))
	e.invocations.Add(context.Background(), 1, attrs)
	e.duration.Record(context.Background(), time.Since(started).Seconds(), attrs)

	return result, err
}

func (e *Executor) invoke(ctx context.Context, reg *models.Registration, args map[string]any, logger *logging.Logger) (*models.InvocationResult, error) {
	cached := e.resolver.Cached(reg.WorkflowID)
	if cached != nil {
		if _, err := validate(cached, args); err != nil {
			return nil, err
		}
	}

	desc, err := e.resolver.Describe(ctx, reg.WorkflowID)
	if err != nil {
		return nil, err
	}
	input, err := validate(desc.Schema, args)
	if err != nil {
		return nil, err
	}

	executionID, err := e.run(ctx, desc, input)
	if err != nil {
		return nil, err
	}
	logger.Debug("Execution started", "executionId", executionID)

	exec, err := e.poll(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Failed() {
		return nil, errs.New(errs.UpstreamError, "execution %s failed: %s", executionID, failureMessage(exec))
	}

	return &models.InvocationResult{
		Status:      models.InvocationOK,
		Payload:     payload(exec),
		ExecutionID: executionID,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// run starts the execution, refreshing the session once when the engine
// rejects it. The request is not cancelled if the caller goes away.
func (e *Executor) run(ctx context.Context, desc *schema.Descriptor, input map[string]any) (string, error) {
	runCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}

	instance := e.engine.InstanceURL()
	sess, err := e.sessions.Get(ctx, instance)
	if err != nil {
		return "", err
	}

	start := func(s *session.Session) (string, error) {
		var id string
		err := e.retry(ctx, func() error {
			var err error
			id, err = e.engine.RunWorkflow(runCtx, s.Material, desc.Workflow, desc.Schema.TriggerNode, input)
			return err
		})
		return id, err
	}

	id, err := start(sess)
	if engine.IsUnauthorized(err) {
		sess, err = e.sessions.Refresh(ctx, instance, sess)
		if err != nil {
			return "", err
		}
		id, err = start(sess)
		if engine.IsUnauthorized(err) {
			return "", errs.Wrap(errs.AuthenticationFailure, err, "engine rejected a freshly acquired session")
		}
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

var errPending = errors.New("execution still running")

// poll waits for the execution to reach a terminal state with exponential backoff.
func (e *Executor) poll(ctx context.Context, executionID string) (*models.Execution, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.PollInitial
	b.MaxInterval = e.opts.PollMax
	b.MaxElapsedTime = 0
	b.Reset()

	var exec *models.Execution
	failures := 0
	err := backoff.Retry(func() error {
		got, err := e.engine.GetExecution(ctx, executionID)
		switch {
		case err == nil:
			failures = 0
		case engine.IsTransient(err):
			failures++
			if failures > e.opts.MaxRetries {
				return backoff.Permanent(err)
			}
			return err
		default:
			return backoff.Permanent(err)
		}
		if !got.Done() {
			return errPending
		}
		exec = got
		return nil
	}, backoff.WithContext(b, ctx))

	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.ExecutionTimeout, ctx.Err(), "execution %s did not finish within %s", executionID, e.opts.Timeout)
		}
		return nil, err
	}
	return exec, nil
}

// retry runs op again on transient failures, up to MaxRetries times.
func (e *Executor) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.PollInitial
	b.MaxInterval = e.opts.PollMax
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.Retry(func() error {
		err := op()
		if err != nil && !engine.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries)), ctx))
}

// classify maps any remaining error to an invocation failure kind.
func (e *Executor) classify(ctx context.Context, err error) error {
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return errs.Wrap(errs.ExecutionTimeout, err, "invocation did not finish within %s", e.opts.Timeout)
	case engine.IsUnauthorized(err):
		return errs.Wrap(errs.AuthenticationFailure, err, "engine rejected the session")
	default:
		return errs.Wrap(errs.UpstreamError, err, "engine request failed")
	}
}

func failureMessage(exec *models.Execution) string {
	if exec.Data == nil || exec.Data.ResultData.Error == nil {
		return "execution ended with status " + exec.Status
	}
	e := exec.Data.ResultData.Error
	msg := e.Message
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Node != nil && e.Node.Name != "" {
		msg = fmt.Sprintf("%s (node %q)", msg, e.Node.Name)
	}
	return msg
}

// payload returns the first output item of the last executed node.
func payload(exec *models.Execution) json.RawMessage {
	null := json.RawMessage("null")
	if exec.Data == nil {
		return null
	}
	rd := exec.Data.ResultData
	runs := rd.RunData[rd.LastNodeExecuted]
	if len(runs) == 0 {
		return null
	}
	outputs := runs[len(runs)-1].Data["main"]
	if len(outputs) == 0 || len(outputs[0]) == 0 || len(outputs[0][0].JSON) == 0 {
		return null
	}
	return outputs[0][0].JSON
}

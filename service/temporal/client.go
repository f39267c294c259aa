package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
)

// Reconciler starts background resolution of timed-out submissions.
type Reconciler interface {
	// StartReconcile starts ReconcileReceiptWorkflow for a signature. Starting
	// the same signature twice attaches to the running workflow.
	StartReconcile(ctx context.Context, input ReconcileInput) error
}

// Client is a production implementation of Reconciler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Reconciler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartReconcile starts the reconciliation workflow for a submission.
func (c *Client) StartReconcile(ctx context.Context, input ReconcileInput) error {
	id := workflowID(input.Signature)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
		Memo: map[string]any{
			"fee_payer":  input.FeePayer,
			"mint":       input.MintAddress,
			"network":    input.Network,
			"created_by": "tokenforge",
		},
	}, ReconcileReceiptWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start reconciliation",
			"signature", input.Signature,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "reconciliation started",
		"signature", input.Signature,
		"workflow_id", id,
		"run_id", run.GetRunID(),
	)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// workflowID returns the workflow ID for a submission signature.
func workflowID(signature string) string {
	return "reconcile-" + signature
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}

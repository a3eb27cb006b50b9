// Package queue runs background tasks on Redis through asynq.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// ErrDuplicate is returned when a task with the same ID is already queued.
var ErrDuplicate = errors.New("queue: duplicate task")

type Task struct {
	Type    string
	Payload []byte
}

type EnqueueOptions struct {
	TaskID    string
	Queue     string
	MaxRetry  int
	ProcessIn time.Duration
	Timeout   time.Duration
}

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task, opts EnqueueOptions) (string, error)
}

type Handler func(ctx context.Context, t Task) error

// Client enqueues tasks.
type Client struct {
	client *asynq.Client
}

func NewClient(redisURL string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Client{client: asynq.NewClient(opt)}, nil
}

var _ Enqueuer = (*Client)(nil)

func (c *Client) Enqueue(ctx context.Context, t Task, opts EnqueueOptions) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), buildOptions(opts)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrDuplicate
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func buildOptions(op EnqueueOptions) []asynq.Option {
	var out []asynq.Option
	if op.TaskID != "" {
		out = append(out, asynq.TaskID(op.TaskID))
	}
	if op.Queue != "" {
		out = append(out, asynq.Queue(op.Queue))
	}
	if op.MaxRetry > 0 {
		out = append(out, asynq.MaxRetry(op.MaxRetry))
	}
	if op.ProcessIn > 0 {
		out = append(out, asynq.ProcessIn(op.ProcessIn))
	}
	if op.Timeout > 0 {
		out = append(out, asynq.Timeout(op.Timeout))
	}
	return out
}

// Server consumes tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisURL string, concurrency int, queues map[string]int, logger *zap.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
		Logger:      logger.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Warn("Task failed",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Error(err))
		}),
	})
	return &Server{server: srv, mux: asynq.NewServeMux()}, nil
}

func (s *Server) Register(taskType string, h Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, Task{Type: t.Type(), Payload: t.Payload()})
	})
}

// Run starts consuming and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// ParseQueueWeights parses "critical=6,default=3,low=1".
func ParseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weight, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		w := 1
		if i, err := strconv.Atoi(strings.TrimSpace(weight)); err == nil && i > 0 {
			w = i
		}
		res[name] = w
	}
	return res
}

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/dialer"
	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/env"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/mongo"
	"github.com/hallcall/hallcall-api/pkg/queue"
	"github.com/hallcall/hallcall-api/pkg/voice"
	"github.com/hallcall/hallcall-api/pkg/widget"
)

const opTimeout = 30 * time.Second

// Runner opens connections lazily so commands like widget snippet work
// without a database.
type Runner struct {
	cfg   *env.Config
	out   io.Writer
	mongo *mongo.Client
	redis *redis.Client
	queue *queue.Client
}

func NewRunner(cfg *env.Config, out io.Writer) *Runner {
	return &Runner{cfg: cfg, out: out}
}

func (r *Runner) store() (*store.Store, error) {
	if r.mongo == nil {
		client, err := mongo.NewClient(r.cfg.MongoURI, r.cfg.DBName)
		if err != nil {
			return nil, err
		}
		r.mongo = client
	}
	return store.New(r.mongo), nil
}

func (r *Runner) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.queue != nil {
		_ = r.queue.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.mongo != nil {
		if err := r.mongo.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}
}

func (r *Runner) CreateUser(ctx context.Context, cmd *cli.Command) error {
	email := auth.NormalizeEmail(cmd.String("email"))
	plan := cmd.String("plan")
	if _, ok := models.LookupPlan(plan); !ok {
		return fmt.Errorf("unknown plan %q", plan)
	}
	role := cmd.String("role")
	if role != auth.RoleOwner && role != auth.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	password := cmd.String("password")
	if err := auth.CheckPasswordStrength(password); err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	st, err := r.store()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	user, err := st.CreateUser(ctx, email, hash, role, cmd.String("name"), cmd.String("company"), plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "created %s (%s) on plan %s\n", user.Email, user.ID, plan)
	return nil
}

func (r *Runner) SetPlan(ctx context.Context, cmd *cli.Command) error {
	email := auth.NormalizeEmail(cmd.StringArg("email"))
	plan := cmd.StringArg("plan")
	if email == "" || plan == "" {
		return fmt.Errorf("usage: user set-plan <email> <plan>")
	}
	if _, ok := models.LookupPlan(plan); !ok {
		return fmt.Errorf("unknown plan %q", plan)
	}

	st, err := r.store()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	user, err := st.UserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find %s: %w", email, err)
	}
	profile, err := st.SetPlan(ctx, user.ID, plan)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s now on %s (%d/%d minutes)\n", user.Email, profile.Plan, profile.MinutesUsed, profile.MinutesQuota)
	return nil
}

// DialerTick enqueues due contacts once. A running server worker places the calls.
func (r *Runner) DialerTick(ctx context.Context, _ *cli.Command) error {
	st, err := r.store()
	if err != nil {
		return err
	}
	opt, err := redis.ParseURL(r.cfg.RedisURL)
	if err != nil {
		return err
	}
	r.redis = redis.NewClient(opt)
	r.queue, err = queue.NewClient(r.cfg.RedisURL)
	if err != nil {
		return err
	}

	caller := voice.NewClient(voice.Config{
		APIKey:  r.cfg.ElevenLabsAPIKey,
		BaseURL: r.cfg.ElevenLabsBaseURL,
		Timeout: r.cfg.VendorTimeout(),
	}, logger.Named("voice"))
	d := dialer.New(st, r.redis, r.queue, caller, dialer.Config{
		CallsPerSec: r.cfg.DialerCallsPerSec,
		BatchSize:   r.cfg.DialerBatchSize,
	})

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	n, err := d.Tick(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "enqueued %d dial tasks\n", n)
	return nil
}

func (r *Runner) WidgetSnippet(_ context.Context, cmd *cli.Command) error {
	agentID := cmd.StringArg("agent-id")
	if agentID == "" {
		return fmt.Errorf("usage: widget snippet <agent-id>")
	}
	fmt.Fprintln(r.out, widget.Snippet(r.cfg.PublicBaseURL, agentID))
	return nil
}

package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campaigncore/internal/access"
	"campaigncore/internal/batch"
	"campaigncore/pkg/domain"
)

// JobKind is the batch job kind cascades run under.
const JobKind = "publish"

const paramTarget = "target"

// errConverged aborts a transaction whose entity already has the target state.
var errConverged = errors.New("already converged")

// Runner is the part of the batch runner the cascader needs.
type Runner interface {
	Register(kind string, h batch.Handler)
	Submit(ctx context.Context, sub batch.Submission) (batch.Job, error)
}

// Cascader submits publication cascades and executes their steps.
type Cascader struct {
	store  domain.PersistentStore
	runner Runner
	logger *slog.Logger
}

// Option configures a Cascader.
type Option func(*Cascader)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cascader) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCascader builds a cascader and registers its step handler with runner.
func NewCascader(store domain.PersistentStore, runner Runner, opts ...Option) *Cascader {
	c := &Cascader{store: store, runner: runner, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	runner.Register(JobKind, c)
	return c
}

// Cascade checks that actor may publish root, plans the subtree and submits
// it as a batch job. The returned job is queued; progress is observed through
// the runner.
func (c *Cascader) Cascade(ctx context.Context, actor access.Actor, root domain.EntityRef, target domain.PublishState) (batch.Job, error) {
	if !target.Valid() {
		return batch.Job{}, fmt.Errorf("unknown publish state %q", target)
	}
	var steps []domain.EntityRef
	err := c.store.View(ctx, func(view domain.TransactionView) error {
		if err := access.Require(access.NewResolver(view).CanPublish(root, actor)); err != nil {
			return err
		}
		var err error
		steps, err = Plan(view, root)
		return err
	})
	if err != nil {
		return batch.Job{}, err
	}
	encoded := make([]string, len(steps))
	for i, ref := range steps {
		encoded[i] = ref.String()
	}
	job, err := c.runner.Submit(ctx, batch.Submission{
		Kind:        JobKind,
		Root:        root.String(),
		RequestedBy: actor.String(),
		Params:      map[string]string{paramTarget: string(target)},
		Steps:       encoded,
	})
	if err != nil {
		return batch.Job{}, err
	}
	c.logger.Info("publication cascade submitted", "job", job.ID, "root", root.String(), "target", target, "entities", len(encoded))
	return job, nil
}

// HandleStep converges one entity to the job's target state. Entities that
// already carry the target state are not written.
func (c *Cascader) HandleStep(ctx context.Context, job batch.Job, step string) error {
	target := domain.PublishState(job.Params[paramTarget])
	if !target.Valid() {
		return fmt.Errorf("job %s: unknown publish state %q", job.ID, target)
	}
	ref, err := domain.ParseEntityRef(step)
	if err != nil {
		return err
	}
	_, err = c.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return apply(tx, ref, target.Published())
	})
	if errors.Is(err, errConverged) {
		return nil
	}
	if err != nil {
		c.logger.Warn("publish state not applied", "job", job.ID, "entity", ref.String(), "error", err)
		return err
	}
	return nil
}

func apply(tx domain.Transaction, ref domain.EntityRef, published bool) error {
	var err error
	switch ref.Kind {
	case domain.EntityOrganization:
		_, err = tx.UpdateOrganization(ref.ID, func(o *domain.Organization) error {
			return set(&o.Published, published)
		})
	case domain.EntityGroup:
		_, err = tx.UpdateGroup(ref.ID, func(g *domain.Group) error {
			return set(&g.Published, published)
		})
	case domain.EntityEvent:
		_, err = tx.UpdateEvent(ref.ID, func(e *domain.Event) error {
			return set(&e.Published, published)
		})
	case domain.EntityImport:
		_, err = tx.UpdateImport(ref.ID, func(i *domain.Import) error {
			return set(&i.Published, published)
		})
	case domain.EntityResult:
		_, err = tx.UpdateResult(ref.ID, func(r *domain.Result) error {
			return set(&r.Published, published)
		})
	default:
		err = fmt.Errorf("%s is not publishable", ref.Kind)
	}
	return err
}

func set(flag *bool, published bool) error {
	if *flag == published {
		return errConverged
	}
	*flag = published
	return nil
}

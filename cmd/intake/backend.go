package main

import (
	"context"
	"fmt"

	"bankintake/internal/app"
	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/intake"
	intakesdk "bankintake/sdk/go"
)

// backend is what the review commands run against: the local store or a
// remote server.
type backend interface {
	Apply(ctx context.Context, family domain.Family, raw map[string]any) (intakesdk.Submission, error)
	List(ctx context.Context, family domain.Family, opts intakesdk.ListOptions) (intakesdk.Page, error)
	Get(ctx context.Context, family domain.Family, token string) (domain.Application, error)
	Approve(ctx context.Context, family domain.Family, token string) (domain.Application, error)
	Reject(ctx context.Context, family domain.Family, token string) (domain.Application, error)
	Events(ctx context.Context, family domain.Family, token string) ([]domain.Event, error)
	Stats(ctx context.Context) (engine.Stats, error)
	Recent(ctx context.Context, limit int, status string) ([]domain.Application, error)
	Search(ctx context.Context, q string) ([]domain.Application, error)
}

var _ backend = (*intakesdk.Client)(nil)

type localBackend struct {
	eng   engine.Engine
	actor string
}

func (b localBackend) Apply(ctx context.Context, family domain.Family, raw map[string]any) (intakesdk.Submission, error) {
	a, err := b.eng.Submit(ctx, engine.SubmitOptions{Family: family, Raw: raw, ActorID: b.actor})
	if err != nil {
		return intakesdk.Submission{}, err
	}
	return intakesdk.Submission{
		ReferenceNumber: a.ReferenceNumber,
		RecordID:        a.ID,
		Message:         fmt.Sprintf("%s application submitted successfully", a.ProductType.Label()),
	}, nil
}

func (b localBackend) List(ctx context.Context, family domain.Family, opts intakesdk.ListOptions) (intakesdk.Page, error) {
	lo := engine.ListOptions{
		Family: family,
		Status: domain.Status(opts.Status),
		Query:  opts.Query,
		Page:   opts.Page,
		Limit:  opts.Limit,
	}
	if opts.ProductType != "" {
		pt, ok := intake.LookupType(family, opts.ProductType)
		if !ok {
			ve := &domain.ValidationError{}
			ve.AddInvalid("productType", fmt.Sprintf("unknown %s type %q", family, opts.ProductType))
			return intakesdk.Page{}, ve
		}
		lo.ProductType = pt
	}
	res, err := b.eng.List(ctx, lo)
	if err != nil {
		return intakesdk.Page{}, err
	}
	return intakesdk.Page{Total: res.Total, Page: res.Page, Limit: res.Limit, Count: len(res.Items), Data: res.Items}, nil
}

func (b localBackend) Get(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	return b.eng.Get(ctx, family, token)
}

func (b localBackend) Approve(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	return b.eng.Approve(ctx, family, token, b.actor)
}

func (b localBackend) Reject(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	return b.eng.Reject(ctx, family, token, b.actor)
}

func (b localBackend) Events(ctx context.Context, family domain.Family, token string) ([]domain.Event, error) {
	return b.eng.Events(ctx, family, token)
}

func (b localBackend) Stats(ctx context.Context) (engine.Stats, error) {
	return b.eng.Stats(ctx)
}

func (b localBackend) Recent(ctx context.Context, limit int, status string) ([]domain.Application, error) {
	return b.eng.Recent(ctx, limit, domain.Status(status))
}

func (b localBackend) Search(ctx context.Context, q string) ([]domain.Application, error) {
	return b.eng.Search(ctx, q)
}

// withBackend runs fn against --server when set, otherwise against the
// configured store.
func (c *cli) withBackend(ctx context.Context, fn func(context.Context, backend) error) error {
	if addr := c.v.GetString("server"); addr != "" {
		client := intakesdk.New(addr)
		client.BearerToken = c.v.GetString("token")
		client.ActorID = c.v.GetString("actor-id")
		return fn(ctx, client)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, c.logger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, localBackend{eng: a.Engine, actor: c.v.GetString("actor-id")})
}

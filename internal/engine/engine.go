package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bankintake/internal/config"
	"bankintake/internal/domain"
	"bankintake/internal/intake"
	"bankintake/internal/logger"
	"bankintake/internal/metrics"
	"bankintake/internal/refno"
	"bankintake/internal/repo"
)

const (
	DefaultActor = "anonymous"
	defaultLimit = 50
	maxLimit     = 200
	maxPage      = 1000000
)

type Engine struct {
	Store       repo.Store
	RefNo       *refno.Generator
	Log         logger.Logger
	Metrics     *metrics.Collector
	Now         func() time.Time
	MaxAttempts int
	RecentLimit int
	SearchLimit int
}

func New(store repo.Store, cfg *config.Config, log logger.Logger, m *metrics.Collector) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return Engine{
		Store:       store,
		RefNo:       refno.New(cfg.RefNo.FamilySchemes()),
		Log:         log,
		Metrics:     m,
		Now:         time.Now,
		MaxAttempts: cfg.RefNo.MaxAttempts,
		RecentLimit: cfg.Admin.RecentLimit,
		SearchLimit: cfg.Admin.SearchLimit,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.NewNoOpLogger()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrDuplicateReference):
		return "duplicate"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "conflict"
	default:
		return "error"
	}
}

// SubmitOptions are parameters for a new application. ProductType may be
// left empty to read it from Raw.
type SubmitOptions struct {
	Family      domain.Family
	ProductType domain.ProductType
	Raw         map[string]any
	ActorID     string
}

// Submit normalizes, validates and stores a new pending application. A
// generated reference number that collides is regenerated up to
// MaxAttempts times; a caller-supplied one fails on the first collision.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Application, error) {
	app, err := e.submit(ctx, opts)
	pt := string(app.ProductType)
	if pt == "" {
		pt = string(opts.ProductType)
	}
	e.Metrics.ObserveSubmission(string(opts.Family), pt, outcome(err))
	fields := map[string]interface{}{"family": opts.Family, "product_type": pt}
	switch {
	case err == nil:
		fields["id"] = app.ID
		fields["reference_number"] = app.ReferenceNumber
		e.log().Info("application submitted", fields)
	case errors.Is(err, domain.ErrValidation):
		e.log().Debug("application rejected by validation", map[string]interface{}{"family": opts.Family, "reason": err.Error()})
	default:
		e.log().WithError(err).Warn("application submit failed", fields)
	}
	return app, err
}

func (e Engine) submit(ctx context.Context, opts SubmitOptions) (domain.Application, error) {
	if !opts.Family.Valid() {
		ve := &domain.ValidationError{}
		ve.AddInvalid("productFamily", fmt.Sprintf("unknown product family %q", opts.Family))
		return domain.Application{}, ve
	}
	raw := opts.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	pt := opts.ProductType
	if pt == "" {
		var err error
		if pt, err = intake.ResolveType(opts.Family, raw); err != nil {
			return domain.Application{}, err
		}
	}
	canon, err := intake.Normalize(opts.Family, pt, raw)
	if err != nil {
		return domain.Application{ProductType: pt}, err
	}

	var ve *domain.ValidationError
	if err := intake.Validate(pt, canon.Fields); err != nil && !errors.As(err, &ve) {
		return domain.Application{ProductType: pt}, err
	}
	if canon.ReferenceNumber != "" {
		msg := ""
		switch {
		case !refno.Valid(canon.ReferenceNumber):
			msg = "must be 4 to 40 letters, digits or dashes"
		case isRecordID(canon.ReferenceNumber):
			// Ids and references share one lookup key space.
			msg = "must not have the form of an application id"
		}
		if msg != "" {
			if ve == nil {
				ve = &domain.ValidationError{}
			}
			ve.AddInvalid("referenceNumber", msg)
		}
	}
	if err := ve.Err(); err != nil {
		return domain.Application{ProductType: pt}, err
	}

	actor := opts.ActorID
	if actor == "" {
		actor = DefaultActor
	}
	now := e.now().UTC()
	app := domain.Application{
		ID:            uuid.NewString(),
		Family:        opts.Family,
		ProductType:   pt,
		ApplicantName: strings.TrimSpace(canon.Fields.String("applicantName")),
		Fields:        canon.Fields,
		Status:        domain.StatusPending,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}

	supplied := canon.ReferenceNumber != ""
	attempts := e.MaxAttempts
	if attempts < 1 || supplied {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		app.ReferenceNumber = canon.ReferenceNumber
		if !supplied {
			app.ReferenceNumber = e.RefNo.Generate(opts.Family)
		}
		evt := domain.Event{
			TS:            now,
			Type:          domain.EventSubmitted,
			ApplicationID: app.ID,
			Family:        app.Family,
			ActorID:       actor,
			Payload: map[string]any{
				"referenceNumber": app.ReferenceNumber,
				"productType":     string(app.ProductType),
			},
		}
		err = e.Store.Create(ctx, app, evt)
		if err == nil {
			return app, nil
		}
		if !errors.Is(err, domain.ErrDuplicateReference) {
			return domain.Application{ProductType: pt}, err
		}
		e.log().Warn("reference number collision", map[string]interface{}{
			"family":           opts.Family,
			"reference_number": app.ReferenceNumber,
			"attempt":          i + 1,
		})
	}
	return domain.Application{ProductType: pt}, fmt.Errorf("reference number %s: %w", app.ReferenceNumber, err)
}

// isRecordID reports whether s parses as a uuid, the form of every id.
func isRecordID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Get resolves token as an id or reference number within family.
func (e Engine) Get(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	if !family.Valid() {
		return domain.Application{}, domain.ErrNotFound
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Application{}, domain.ErrNotFound
	}
	return e.Store.FindByToken(ctx, family, token)
}

func (e Engine) Approve(ctx context.Context, family domain.Family, token, actorID string) (domain.Application, error) {
	return e.decide(ctx, family, token, domain.StatusApproved, actorID)
}

func (e Engine) Reject(ctx context.Context, family domain.Family, token, actorID string) (domain.Application, error) {
	return e.decide(ctx, family, token, domain.StatusRejected, actorID)
}

func (e Engine) decide(ctx context.Context, family domain.Family, token string, to domain.Status, actorID string) (domain.Application, error) {
	app, err := e.transition(ctx, family, token, to, actorID)
	e.Metrics.ObserveDecision(string(family), string(to), outcome(err))
	fields := map[string]interface{}{"family": family, "token": token, "decision": to, "actor": actorID}
	switch {
	case err == nil:
		fields["id"] = app.ID
		e.log().Info("application decided", fields)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		e.log().Debug("decision refused", map[string]interface{}{"family": family, "token": token, "reason": err.Error()})
	default:
		e.log().WithError(err).Error("decision failed", fields)
	}
	return app, err
}

func (e Engine) transition(ctx context.Context, family domain.Family, token string, to domain.Status, actorID string) (domain.Application, error) {
	if actorID == "" {
		actorID = DefaultActor
	}
	app, err := e.Get(ctx, family, token)
	if err != nil {
		return domain.Application{}, err
	}
	if err := domain.EnsureTransition(app.Status, to); err != nil {
		return domain.Application{}, err
	}
	now := e.now().UTC()
	u := repo.StatusUpdate{
		ID:              app.ID,
		ReferenceNumber: app.ReferenceNumber,
		Family:          family,
		Expected:        domain.StatusPending,
		New:             to,
		DecidedAt:       now,
		UpdatedAt:       now,
		ActorID:         actorID,
	}
	evt := domain.Event{
		TS:            now,
		Type:          domain.DecisionEvent(to),
		ApplicationID: app.ID,
		Family:        family,
		ActorID:       actorID,
		Payload: map[string]any{
			"referenceNumber": app.ReferenceNumber,
			"from":            string(app.Status),
			"to":              string(to),
		},
	}
	matched, err := e.Store.UpdateStatus(ctx, u, evt)
	if err != nil {
		return domain.Application{}, err
	}
	if matched == 0 {
		// Lost a race with another decision, or the record went away.
		cur, err := e.Store.FindByToken(ctx, family, app.ID)
		if err != nil {
			return domain.Application{}, err
		}
		return domain.Application{}, &domain.TransitionError{From: cur.Status, To: to}
	}
	app.Status = to
	app.DecidedAt = &now
	app.DecidedBy = actorID
	app.UpdatedAt = now
	return app, nil
}

// Events returns the audit trail of one application, oldest first.
func (e Engine) Events(ctx context.Context, family domain.Family, token string) ([]domain.Event, error) {
	app, err := e.Get(ctx, family, token)
	if err != nil {
		return nil, err
	}
	return e.Store.Events(ctx, app.ID)
}

type ListOptions struct {
	Family      domain.Family
	Status      domain.Status
	ProductType domain.ProductType
	Query       string
	Page        int
	Limit       int
}

type ListResult struct {
	Items []domain.Application `json:"data"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// NormalizeLimit applies the default and maximum page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func (e Engine) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	ve := &domain.ValidationError{}
	if !opts.Family.Valid() {
		ve.AddInvalid("productFamily", fmt.Sprintf("unknown product family %q", opts.Family))
	}
	if opts.Status != "" && !opts.Status.Valid() {
		ve.AddInvalid("status", "must be pending, approved or rejected")
	}
	if opts.ProductType != "" && opts.ProductType.Family() != opts.Family {
		ve.AddInvalid("productType", fmt.Sprintf("%q is not a %s product", opts.ProductType, opts.Family))
	}
	if err := ve.Err(); err != nil {
		return ListResult{}, err
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	limit := NormalizeLimit(opts.Limit)
	f := repo.Filter{
		Family:      opts.Family,
		Status:      opts.Status,
		ProductType: opts.ProductType,
		Query:       strings.TrimSpace(opts.Query),
		Skip:        int64(page-1) * int64(limit),
		Limit:       int64(limit),
	}
	items, err := e.Store.Find(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	total, err := e.Store.Count(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total, Page: page, Limit: limit}, nil
}

type FamilyStats struct {
	Family   domain.Family `json:"productFamily"`
	Pending  int64         `json:"pending"`
	Approved int64         `json:"approved"`
	Rejected int64         `json:"rejected"`
	Total    int64         `json:"total"`
}

type Stats struct {
	Families     []FamilyStats `json:"families"`
	TotalPending int64         `json:"totalPending"`
	Total        int64         `json:"total"`
}

// Stats counts applications per family and status. Any store failure
// fails the whole call.
func (e Engine) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	for _, f := range domain.Families {
		fs := FamilyStats{Family: f}
		for _, s := range []domain.Status{domain.StatusPending, domain.StatusApproved, domain.StatusRejected} {
			n, err := e.Store.Count(ctx, repo.Filter{Family: f, Status: s})
			if err != nil {
				return Stats{}, err
			}
			switch s {
			case domain.StatusPending:
				fs.Pending = n
			case domain.StatusApproved:
				fs.Approved = n
			case domain.StatusRejected:
				fs.Rejected = n
			}
			fs.Total += n
		}
		out.Families = append(out.Families, fs)
		out.TotalPending += fs.Pending
		out.Total += fs.Total
	}
	return out, nil
}

// Recent merges the newest applications of every family. A zero limit uses
// RecentLimit; an empty status includes all statuses.
func (e Engine) Recent(ctx context.Context, limit int, status domain.Status) ([]domain.Application, error) {
	if status != "" && !status.Valid() {
		ve := &domain.ValidationError{}
		ve.AddInvalid("status", "must be pending, approved or rejected")
		return nil, ve
	}
	if limit <= 0 {
		limit = e.RecentLimit
	}
	if limit <= 0 {
		limit = 10
	}
	limit = NormalizeLimit(limit)
	return e.merge(ctx, limit, func(f domain.Family) repo.Filter {
		return repo.Filter{Family: f, Status: status, Limit: int64(limit)}
	})
}

// Search finds applications whose reference number or applicant name
// contains q, at most SearchLimit per family.
func (e Engine) Search(ctx context.Context, q string) ([]domain.Application, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		ve := &domain.ValidationError{}
		ve.AddMissing("q")
		return nil, ve
	}
	per := e.SearchLimit
	if per <= 0 {
		per = 5
	}
	return e.merge(ctx, 0, func(f domain.Family) repo.Filter {
		return repo.Filter{Family: f, Query: q, Limit: int64(per)}
	})
}

func (e Engine) merge(ctx context.Context, limit int, filter func(domain.Family) repo.Filter) ([]domain.Application, error) {
	var all []domain.Application
	for _, f := range domain.Families {
		items, err := e.Store.Find(ctx, filter(f))
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
			return all[i].SubmittedAt.After(all[j].SubmittedAt)
		}
		return all[i].ID > all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []domain.Application{}
	}
	return all, nil
}

// Ping reports whether the store is reachable.
func (e Engine) Ping(ctx context.Context) error {
	return e.Store.Ping(ctx)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/intake"
)

type tokenPath struct {
	Token string `path:"token" doc:"Application id or reference number"`
}

type listQuery struct {
	Status      string `query:"status" doc:"pending, approved or rejected"`
	ProductType string `query:"productType"`
	LoanType    string `query:"loanType" doc:"Legacy alias of productType"`
	AccountType string `query:"accountType" doc:"Legacy alias of productType"`
	Type        string `query:"type" doc:"Legacy alias of productType"`
	Query       string `query:"q" doc:"Substring of reference number or applicant name"`
	Page        int    `query:"page" default:"1" minimum:"1" maximum:"1000000"`
	Limit       int    `query:"limit" default:"50"`
}

func (q listQuery) productType() string {
	for _, v := range []string{q.ProductType, q.LoanType, q.AccountType, q.Type} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseSubmission decodes a JSON object or urlencoded form. JSON numbers
// are kept exact.
func parseSubmission(contentType string, data []byte) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid form body", nil)
		}
		out := make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
		return out, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "request body must be a JSON object", nil)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func registerApplications(api huma.API, h handlers, f domain.Family) {
	base := "/" + f.Plural()
	tags := []string{f.Plural()}

	submit := func(ctx context.Context, in *struct {
		ContentType string `header:"Content-Type"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		raw, err := parseSubmission(in.ContentType, bodyBytes(ctx))
		if err != nil {
			return nil, err
		}
		app, err := h.eng.Submit(ctx, engine.SubmitOptions{Family: f, Raw: raw, ActorID: "applicant"})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{
			Success:         true,
			ReferenceNumber: app.ReferenceNumber,
			RecordID:        app.ID,
			Message:         fmt.Sprintf("%s application submitted successfully", app.ProductType.Label()),
		}}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID:   "apply-" + string(f),
		Method:        http.MethodPost,
		Path:          base + "/apply",
		Summary:       fmt.Sprintf("Submit a %s application", f),
		Description:   "Accepts a JSON object or an urlencoded form.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
	}, submit)
	if f == domain.FamilyAccount {
		huma.Register(api, huma.Operation{
			OperationID:   "open-account",
			Method:        http.MethodPost,
			Path:          base + "/open",
			Summary:       "Open an account",
			Tags:          tags,
			DefaultStatus: http.StatusCreated,
			Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
		}, submit)
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-" + f.Plural(),
		Method:      http.MethodGet,
		Path:        base,
		Summary:     fmt.Sprintf("List %s applications", f),
		Tags:        tags,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *listQuery) (*struct {
		Body ListResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		opts := engine.ListOptions{
			Family: f,
			Status: domain.Status(strings.ToLower(strings.TrimSpace(in.Status))),
			Query:  in.Query,
			Page:   in.Page,
			Limit:  in.Limit,
		}
		if v := in.productType(); v != "" {
			pt, ok := intake.LookupType(f, v)
			if !ok {
				ve := &domain.ValidationError{}
				ve.AddInvalid("productType", fmt.Sprintf("unknown %s type %q", f, v))
				return nil, h.fail(ctx, ve)
			}
			opts.ProductType = pt
		}
		res, err := h.eng.List(ctx, opts)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body ListResponse `json:"body"`
		}{Body: listResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-" + string(f),
		Method:      http.MethodGet,
		Path:        base + "/{token}",
		Summary:     fmt.Sprintf("Get a %s application by id or reference number", f),
		Tags:        tags,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *tokenPath) (*struct {
		Body ApplicationResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		app, err := h.eng.Get(ctx, f, in.Token)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body ApplicationResponse `json:"body"`
		}{Body: ApplicationResponse{Success: true, Data: app}}, nil
	})

	decide := func(to domain.Status) func(context.Context, *tokenPath) (*struct {
		Body DecisionResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, in *tokenPath) (*struct {
			Body DecisionResponse `json:"body"`
		}, error) {
			p, err := requireStaff(ctx)
			if err != nil {
				return nil, h.fail(ctx, err)
			}
			var app domain.Application
			if to == domain.StatusApproved {
				app, err = h.eng.Approve(ctx, f, in.Token, p.ActorID)
			} else {
				app, err = h.eng.Reject(ctx, f, in.Token, p.ActorID)
			}
			if err != nil {
				return nil, h.fail(ctx, err)
			}
			return &struct {
				Body DecisionResponse `json:"body"`
			}{Body: DecisionResponse{Success: true, Message: "Application " + string(to), Data: app}}, nil
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "approve-" + string(f),
		Method:      http.MethodPut,
		Path:        base + "/{token}/approve",
		Summary:     fmt.Sprintf("Approve a pending %s application", f),
		Tags:        tags,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, decide(domain.StatusApproved))
	huma.Register(api, huma.Operation{
		OperationID: "reject-" + string(f),
		Method:      http.MethodPut,
		Path:        base + "/{token}/reject",
		Summary:     fmt.Sprintf("Reject a pending %s application", f),
		Tags:        tags,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, decide(domain.StatusRejected))

	huma.Register(api, huma.Operation{
		OperationID: "events-" + string(f),
		Method:      http.MethodGet,
		Path:        base + "/{token}/events",
		Summary:     fmt.Sprintf("Audit trail of a %s application", f),
		Tags:        tags,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *tokenPath) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		evts, err := h.eng.Events(ctx, f, in.Token)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Success: true, Data: evts}}, nil
	})
}

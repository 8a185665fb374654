package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"bankintake/internal/domain"
)

func registerAdmin(api huma.API, h handlers) {
	tags := []string{"admin"}
	errs := []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable}

	huma.Register(api, huma.Operation{
		OperationID: "admin-stats",
		Method:      http.MethodGet,
		Path:        "/admin/stats",
		Summary:     "Application counts per family and status",
		Tags:        tags,
		Errors:      errs,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		stats, err := h.eng.Stats(ctx)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: StatsResponse{Success: true, Data: stats}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-recent",
		Method:      http.MethodGet,
		Path:        "/admin/recent",
		Summary:     "Newest applications across every family",
		Tags:        tags,
		Errors:      append([]int{http.StatusBadRequest}, errs...),
	}, func(ctx context.Context, in *struct {
		Limit  int    `query:"limit" doc:"Defaults to the configured recent window"`
		Status string `query:"status"`
	}) (*struct {
		Body ApplicationsResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		items, err := h.eng.Recent(ctx, in.Limit, domain.Status(strings.ToLower(strings.TrimSpace(in.Status))))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body ApplicationsResponse `json:"body"`
		}{Body: applicationsResponse(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "admin-search",
		Method:      http.MethodGet,
		Path:        "/admin/search",
		Summary:     "Search applications by reference number or applicant name",
		Tags:        tags,
		Errors:      append([]int{http.StatusBadRequest}, errs...),
	}, func(ctx context.Context, in *struct {
		Query string `query:"q"`
	}) (*struct {
		Body ApplicationsResponse `json:"body"`
	}, error) {
		if _, err := requireStaff(ctx); err != nil {
			return nil, h.fail(ctx, err)
		}
		items, err := h.eng.Search(ctx, in.Query)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return &struct {
			Body ApplicationsResponse `json:"body"`
		}{Body: applicationsResponse(items)}, nil
	})
}

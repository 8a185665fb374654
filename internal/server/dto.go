package server

import (
	"bankintake/internal/domain"
	"bankintake/internal/engine"
)

type SubmitResponse struct {
	Success         bool   `json:"success"`
	ReferenceNumber string `json:"referenceNumber" example:"LN1735689600000042"`
	RecordID        string `json:"recordId"`
	Message         string `json:"message" example:"Car Loan application submitted successfully"`
}

type ListResponse struct {
	Success bool                 `json:"success"`
	Total   int64                `json:"total"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	Count   int                  `json:"count"`
	Data    []domain.Application `json:"data"`
}

type ApplicationResponse struct {
	Success bool               `json:"success"`
	Data    domain.Application `json:"data"`
}

type DecisionResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message" example:"Application approved"`
	Data    domain.Application `json:"data"`
}

type EventsResponse struct {
	Success bool           `json:"success"`
	Data    []domain.Event `json:"data"`
}

type StatsResponse struct {
	Success bool         `json:"success"`
	Data    engine.Stats `json:"data"`
}

type ApplicationsResponse struct {
	Success bool                 `json:"success"`
	Count   int                  `json:"count"`
	Data    []domain.Application `json:"data"`
}

func listResponse(res engine.ListResult) ListResponse {
	items := res.Items
	if items == nil {
		items = []domain.Application{}
	}
	return ListResponse{Success: true, Total: res.Total, Page: res.Page, Limit: res.Limit, Count: len(items), Data: items}
}

func applicationsResponse(items []domain.Application) ApplicationsResponse {
	if items == nil {
		items = []domain.Application{}
	}
	return ApplicationsResponse{Success: true, Count: len(items), Data: items}
}

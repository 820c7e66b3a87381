package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/carepoint/policygate/internal/protocol"
	"github.com/carepoint/policygate/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// PatientsHandler serves patients.get and patients.list.
type PatientsHandler struct {
	repo store.PatientRepository
}

// NewPatientsHandler creates the handler.
func NewPatientsHandler(repo store.PatientRepository) *PatientsHandler {
	if repo == nil {
		panic("handlers: patient repository cannot be nil")
	}
	return &PatientsHandler{repo: repo}
}

// Page is the list envelope.
type Page struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for offset paging.
type Pagination struct {
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
}

func (h *PatientsHandler) Handle(ctx context.Context, req *protocol.Request) (any, error) {
	switch action(ctx) {
	case "get":
		return h.get(ctx, req)
	case "list":
		return h.list(ctx, req)
	default:
		return nil, unknownAction(ctx)
	}
}

func (h *PatientsHandler) get(ctx context.Context, req *protocol.Request) (any, error) {
	id := req.Params["id"]
	if id == "" {
		return nil, protocol.NewError(protocol.CodeValidation, "patient id is required")
	}

	p, err := h.repo.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocol.Errorf(protocol.CodeNotFound, "Patient %s not found", id)
		}
		return nil, err
	}
	return p, nil
}

func (h *PatientsHandler) list(ctx context.Context, req *protocol.Request) (any, error) {
	page, err := queryInt(req, "page", 1)
	if err != nil {
		return nil, err
	}
	size, err := queryInt(req, "page_size", defaultPageSize)
	if err != nil {
		return nil, err
	}
	page = max(page, 1)
	size = min(max(size, 1), maxPageSize)

	patients, total, err := h.repo.ListPatients(ctx, size, (page-1)*size)
	if err != nil {
		return nil, err
	}

	return Page{
		Data: patients,
		Pagination: Pagination{
			TotalItems:  total,
			TotalPages:  int((total + int64(size) - 1) / int64(size)),
			CurrentPage: page,
			PageSize:    size,
		},
	}, nil
}

// queryInt reads an optional integer query parameter.
func queryInt(req *protocol.Request, key string, def int) (int, error) {
	raw, ok := req.Query[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, protocol.NewError(protocol.CodeValidation, fmt.Sprintf("parameter '%s' must be an integer", key))
	}
	return v, nil
}

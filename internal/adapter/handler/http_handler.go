package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/helioworks/stockcore/internal/core/domain"
	"github.com/helioworks/stockcore/internal/core/service"
)

// HTTPHandler exposes the engine's boundary calls to the surrounding
// CRUD system.
type HTTPHandler struct {
	lifecycle *service.ProjectLifecycleTrigger
	stock     *service.StockService
}

func NewHTTPHandler(lifecycle *service.ProjectLifecycleTrigger, stock *service.StockService) *HTTPHandler {
	return &HTTPHandler{lifecycle: lifecycle, stock: stock}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", h.CreateProject)
	mux.HandleFunc("POST /api/projects/stage", h.TransitionStage)
	mux.HandleFunc("POST /api/projects/status", h.TransitionStatus)
	mux.HandleFunc("POST /api/projects/equipment", h.AddEquipment)
	mux.HandleFunc("GET /api/projects/{id}", h.GetProject)
	mux.HandleFunc("POST /api/stock", h.CreateStockItem)
	mux.HandleFunc("POST /api/stock/receive", h.ReceiveStock)
	mux.HandleFunc("POST /api/stock/adjust", h.AdjustStock)
	mux.HandleFunc("POST /api/stock/return", h.ReturnStock)
	mux.HandleFunc("GET /api/stock", h.ListStock)
	mux.HandleFunc("GET /api/stock/{id}", h.GetStockItem)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type createProjectRequest struct {
	ProposalID string `json:"proposal_id"`
	Name       string `json:"name"`
	ActorID    string `json:"actor_id"`
	RequestID  string `json:"request_id"`
}

type stageRequest struct {
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	ActorID   string `json:"actor_id"`
}

type statusRequest struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	ActorID   string `json:"actor_id"`
}

type equipmentRequest struct {
	ProjectID string          `json:"project_id"`
	ItemID    string          `json:"item_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	ActorID   string          `json:"actor_id"`
}

type stockMutationRequest struct {
	ItemID    string          `json:"item_id"`
	ProjectID string          `json:"project_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	Note      string          `json:"note,omitempty"`
	ActorID   string          `json:"actor_id"`
}

type errorResponse struct {
	Error     string         `json:"error"`
	Shortages []shortageItem `json:"shortages,omitempty"`
}

type shortageItem struct {
	ItemID    string `json:"item_id"`
	Requested string `json:"requested"`
	Available string `json:"available"`
}

type projectResponse struct {
	ID         string              `json:"id"`
	ProposalID string              `json:"proposal_id"`
	Name       string              `json:"name"`
	Stage      string              `json:"stage"`
	Status     string              `json:"status"`
	Equipment  []equipmentRecord   `json:"equipment"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type equipmentRecord struct {
	ItemID   string `json:"item_id"`
	Quantity string `json:"quantity"`
	Source   string `json:"source"`
}

type commitResponse struct {
	ProjectID string        `json:"project_id"`
	Stage     string        `json:"stage"`
	Committed []lineItemDTO `json:"committed"`
	Skipped   []skippedDTO  `json:"skipped"`
}

type lineItemDTO struct {
	ItemID   string `json:"item_id"`
	Quantity string `json:"quantity"`
}

type skippedDTO struct {
	ItemID   string `json:"item_id"`
	Quantity string `json:"quantity"`
	Reason   string `json:"reason"`
}

type stockItemResponse struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Quantity          string        `json:"quantity"`
	ReservedQuantity  string        `json:"reserved_quantity"`
	AvailableQuantity string        `json:"available_quantity"`
	Log               []logEntryDTO `json:"log"`
}

type logEntryDTO struct {
	Kind           string    `json:"kind"`
	QuantityChange string    `json:"quantity_change"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	Note           string    `json:"note,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func (h *HTTPHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ProposalID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "proposal_id is required"})
		return
	}

	project, err := h.lifecycle.CreateProjectFromProposal(r.Context(), req.ProposalID, req.Name, req.ActorID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProjectResponse(project))
}

func (h *HTTPHandler) TransitionStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.lifecycle.TransitionStage(r.Context(), req.ProjectID, domain.Stage(req.Stage), req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commitResponse{
		ProjectID: req.ProjectID,
		Stage:     req.Stage,
		Committed: lo.Map(result.Committed, func(e domain.ConsumedEquipment, _ int) lineItemDTO {
			return lineItemDTO{ItemID: e.StockItemID, Quantity: e.Quantity.String()}
		}),
		Skipped: lo.Map(result.Skipped, func(s service.SkippedItem, _ int) skippedDTO {
			return skippedDTO{ItemID: s.Item.StockItemID, Quantity: s.Item.Quantity.String(), Reason: s.Reason}
		}),
	})
}

func (h *HTTPHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.lifecycle.TransitionStatus(r.Context(), req.ProjectID, domain.Status(req.Status), req.ActorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"project_id": req.ProjectID, "status": req.Status})
}

func (h *HTTPHandler) AddEquipment(w http.ResponseWriter, r *http.Request) {
	var req equipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.lifecycle.AddManualEquipment(r.Context(), req.ProjectID, req.ItemID, req.Quantity, req.ActorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"project_id": req.ProjectID,
		"item_id":    req.ItemID,
		"quantity":   req.Quantity.String(),
	})
}

func (h *HTTPHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.lifecycle.Project(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(project))
}

func (h *HTTPHandler) CreateStockItem(w http.ResponseWriter, r *http.Request) {
	var req stockMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	item, err := h.stock.CreateStockItem(r.Context(), req.ItemID, req.Name, req.Quantity, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockItemResponse(item))
}

func (h *HTTPHandler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req stockMutationRequest) error {
		return h.stock.ReceiveStock(r.Context(), req.ItemID, req.Quantity, req.Note, req.ActorID)
	})
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req stockMutationRequest) error {
		return h.stock.AdjustStock(r.Context(), req.ItemID, req.Quantity, req.Note, req.ActorID)
	})
}

func (h *HTTPHandler) ReturnStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(req stockMutationRequest) error {
		return h.stock.ReturnStock(r.Context(), req.ItemID, req.ProjectID, req.Quantity, req.ActorID)
	})
}

func (h *HTTPHandler) mutateStock(w http.ResponseWriter, r *http.Request, apply func(stockMutationRequest) error) {
	var req stockMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "item_id is required"})
		return
	}

	if err := apply(req); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.stock.StockItem(r.Context(), req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemResponse(item))
}

func (h *HTTPHandler) GetStockItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.stock.StockItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemResponse(item))
}

func (h *HTTPHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.stock.ListStockItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(items, func(item *domain.StockItem, _ int) stockItemResponse {
		return toStockItemResponse(item)
	}))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toProjectResponse(p *domain.Project) projectResponse {
	return projectResponse{
		ID:         p.ID,
		ProposalID: p.ProposalID,
		Name:       p.Name,
		Stage:      string(p.Stage),
		Status:     string(p.Status),
		Equipment: lo.Map(p.Equipment, func(e domain.ConsumedEquipment, _ int) equipmentRecord {
			return equipmentRecord{ItemID: e.StockItemID, Quantity: e.Quantity.String(), Source: string(e.Source)}
		}),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toStockItemResponse(item *domain.StockItem) stockItemResponse {
	return stockItemResponse{
		ID:                item.ID,
		Name:              item.Name,
		Quantity:          item.Quantity.String(),
		ReservedQuantity:  item.ReservedQuantity.String(),
		AvailableQuantity: item.AvailableQuantity().String(),
		Log: lo.Map(item.Log, func(e domain.StockLogEntry, _ int) logEntryDTO {
			return logEntryDTO{
				Kind:           string(e.Kind),
				QuantityChange: e.QuantityChange.String(),
				ReferenceID:    e.ReferenceID,
				Note:           e.Note,
				ActorID:        e.ActorID,
				Timestamp:      e.CreatedAt,
			}
		}),
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}

	var shortage *domain.ShortageError
	if errors.As(err, &shortage) {
		resp.Shortages = []shortageItem{{
			ItemID:    shortage.ItemID,
			Requested: shortage.Requested.String(),
			Available: shortage.Available.String(),
		}}
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrProposalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientReservation):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransactionConflict):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

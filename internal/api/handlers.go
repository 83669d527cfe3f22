package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thephotocrm/thephotocrm-sub005/internal/campaign"
	"github.com/thephotocrm/thephotocrm-sub005/internal/contentgen"
	"github.com/thephotocrm/thephotocrm-sub005/internal/metrics"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateCampaignRequest is the request body for POST /api/v1/campaigns
type CreateCampaignRequest struct {
	Origin models.ContentOrigin `json:"origin"` // STATIC or MANUAL
	campaign.CreateInput
}

// EditResponse is the response for PATCH /api/v1/campaigns/{id}
type EditResponse struct {
	Campaign  *models.Campaign `json:"campaign"`
	Versioned bool             `json:"versioned"`
}

// EnrollRequest is the request body for POST /api/v1/campaigns/{id}/enroll
type EnrollRequest struct {
	SubjectID string `json:"subject_id"`
}

// SubjectRequest is the request body for PUT /api/v1/subjects/{id}
type SubjectRequest struct {
	TenantID    string     `json:"tenant_id"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	StageID     string     `json:"stage_id"`
	EventDate   *time.Time `json:"event_date,omitempty"`
	EmailOptOut bool       `json:"email_opt_out"`
}

// StageEventRequest is the request body for POST /api/v1/events/stage
type StageEventRequest struct {
	SubjectID string     `json:"subject_id"`
	StageID   string     `json:"stage_id"`
	At        *time.Time `json:"at,omitempty"`
}

// TriggerEventRequest is the request body for POST /api/v1/events/trigger
type TriggerEventRequest struct {
	SubjectID   string     `json:"subject_id"`
	TriggerType string     `json:"trigger_type"`
	At          *time.Time `json:"at,omitempty"`
}

// DeliveryStatusRequest is the request body for POST /api/v1/deliveries/{id}/status.
// Status carries a transport state, Event an open or click.
type DeliveryStatusRequest struct {
	Status models.DeliveryStatus `json:"status,omitempty"`
	Event  models.EngagementKind `json:"event,omitempty"`
	At     *time.Time            `json:"at,omitempty"`
}

// DeliveryStatusResponse reports whether a callback changed the delivery
type DeliveryStatusResponse struct {
	Applied bool `json:"applied"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
	})
}

// handleCampaignList handles GET /api/v1/campaigns
func (s *Server) handleCampaignList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.CampaignListFilter{
		TenantID:    q.Get("tenant_id"),
		Status:      models.CampaignStatus(q.Get("status")),
		CurrentOnly: q.Get("current") != "false",
		Limit:       100,
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = min(limit, 1000)
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	}

	campaigns, err := s.deps.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendServiceError(w, "list campaigns", err)
		return
	}
	s.sendJSON(w, http.StatusOK, campaigns)
}

// handleCampaignCreate handles POST /api/v1/campaigns
func (s *Server) handleCampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if !s.decode(w, r, &req) {
		return
	}

	create := s.deps.Campaigns.CreateManual
	switch req.Origin {
	case models.OriginStatic:
		create = s.deps.Campaigns.CreateStatic
	case "", models.OriginManual:
	default:
		s.sendError(w, http.StatusBadRequest, "origin must be STATIC or MANUAL")
		return
	}

	c, created, err := create(r.Context(), req.CreateInput)
	if err != nil {
		s.sendServiceError(w, "create campaign", err)
		return
	}
	s.sendJSON(w, createdStatus(created), c)
}

// handleCampaignGenerate handles POST /api/v1/campaigns/generate
func (s *Server) handleCampaignGenerate(w http.ResponseWriter, r *http.Request) {
	var req campaign.GenerateInput
	if !s.decode(w, r, &req) {
		return
	}

	c, created, err := s.deps.Campaigns.Generate(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, "generate campaign", err)
		return
	}
	s.sendJSON(w, createdStatus(created), c)
}

// handleCampaignGet handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaignGet(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, "get campaign", err)
		return
	}
	s.sendJSON(w, http.StatusOK, detail)
}

// handleCampaignEdit handles PATCH /api/v1/campaigns/{id}
func (s *Server) handleCampaignEdit(w http.ResponseWriter, r *http.Request) {
	var edits models.CampaignEdits
	if !s.decode(w, r, &edits) {
		return
	}

	c, versioned, err := s.deps.Campaigns.Edit(r.Context(), chi.URLParam(r, "id"), edits)
	if err != nil {
		s.sendServiceError(w, "edit campaign", err)
		return
	}
	s.sendJSON(w, http.StatusOK, EditResponse{Campaign: c, Versioned: versioned})
}

// handleEmailEdit handles PATCH /api/v1/emails/{id}
func (s *Server) handleEmailEdit(w http.ResponseWriter, r *http.Request) {
	var edit models.EmailEdit
	if !s.decode(w, r, &edit) {
		return
	}

	c, versioned, err := s.deps.Campaigns.EditEmail(r.Context(), chi.URLParam(r, "id"), edit)
	if err != nil {
		s.sendServiceError(w, "edit email", err)
		return
	}
	s.sendJSON(w, http.StatusOK, EditResponse{Campaign: c, Versioned: versioned})
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, "campaign stats", err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleCampaignTransition wraps a lifecycle operation as a handler
func (s *Server) handleCampaignTransition(op func(context.Context, string) (*models.Campaign, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := op(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.sendServiceError(w, "campaign transition", err)
			return
		}
		s.sendJSON(w, http.StatusOK, c)
	}
}

// handleEnroll handles POST /api/v1/campaigns/{id}/enroll
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		s.sendError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	if _, err := s.deps.Subjects.Get(r.Context(), req.SubjectID); err != nil {
		s.sendServiceError(w, "get subject", err)
		return
	}

	sub, err := s.deps.Subscriptions.Enroll(r.Context(), chi.URLParam(r, "id"), req.SubjectID, s.now())
	if err != nil {
		s.sendServiceError(w, "enroll", err)
		return
	}

	s.logger.Info("subject enrolled via API",
		"subscription_id", sub.ID,
		"campaign_id", sub.CampaignID,
		"subject_id", sub.SubjectID,
	)
	s.sendJSON(w, http.StatusCreated, sub)
}

// handleEmailApproval handles POST /api/v1/emails/{id}/approve and /reject
func (s *Server) handleEmailApproval(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		op := s.deps.Campaigns.RejectEmail
		if approve {
			op = s.deps.Campaigns.ApproveEmail
		}
		if err := op(r.Context(), id); err != nil {
			s.sendServiceError(w, "email approval", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSubscriptionGet handles GET /api/v1/subscriptions/{id}
func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Subscriptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, "get subscription", err)
		return
	}
	s.sendJSON(w, http.StatusOK, sub)
}

// handleSubscriptionUnsubscribe handles POST /api/v1/subscriptions/{id}/unsubscribe
func (s *Server) handleSubscriptionUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	before, err := s.deps.Subscriptions.Get(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, "get subscription", err)
		return
	}

	sub, err := s.deps.Subscriptions.Terminate(r.Context(), id, models.EndUnsubscribed, s.now())
	if err != nil {
		s.sendServiceError(w, "unsubscribe", err)
		return
	}
	if sub.Status != before.Status {
		metrics.IncSubscriptionsEnded(string(models.EndUnsubscribed))
		s.logger.Info("subscription unsubscribed", "subscription_id", id, "subject_id", sub.SubjectID)
	}
	s.sendJSON(w, http.StatusOK, sub)
}

// handleSubjectUpsert handles PUT /api/v1/subjects/{id}. A new subject or a
// stage change runs the stage-entry automations.
func (s *Server) handleSubjectUpsert(w http.ResponseWriter, r *http.Request) {
	var req SubjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TenantID == "" {
		s.sendError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")
	now := s.now()

	existing, err := s.deps.Subjects.Get(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.sendServiceError(w, "get subject", err)
		return
	}

	subject := &models.Subject{
		ID:             id,
		TenantID:       req.TenantID,
		Email:          req.Email,
		Phone:          req.Phone,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		StageID:        req.StageID,
		StageEnteredAt: now,
		EventDate:      req.EventDate,
		EmailOptOut:    req.EmailOptOut,
	}
	stageEntered := req.StageID != ""
	if existing != nil {
		subject.CreatedAt = existing.CreatedAt
		if existing.StageID == req.StageID {
			subject.StageEnteredAt = existing.StageEnteredAt
			stageEntered = false
		}
	}

	if err := s.deps.Subjects.Upsert(ctx, subject); err != nil {
		s.sendServiceError(w, "upsert subject", err)
		return
	}

	if stageEntered {
		if _, err := s.deps.Engine.HandleStageEntered(ctx, subject.ID, subject.StageID, now); err != nil {
			s.logger.Error("stage automations failed", "subject_id", subject.ID, "stage_id", subject.StageID, "error", err)
		}
	}

	s.sendJSON(w, createdStatus(existing == nil), subject)
}

// handleSubjectGet handles GET /api/v1/subjects/{id}
func (s *Server) handleSubjectGet(w http.ResponseWriter, r *http.Request) {
	subject, err := s.deps.Subjects.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, "get subject", err)
		return
	}
	s.sendJSON(w, http.StatusOK, subject)
}

// handleSubjectUnsubscribe handles POST /api/v1/subjects/{id}/unsubscribe.
// The subject opts out of email and every open subscription ends.
func (s *Server) handleSubjectUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.unsubscribeSubject(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, "unsubscribe subject", err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int{"unsubscribed": n})
}

func (s *Server) unsubscribeSubject(ctx context.Context, subjectID string) (int, error) {
	if err := s.deps.Subjects.SetEmailOptOut(ctx, subjectID, true); err != nil {
		return 0, err
	}
	n, err := s.deps.Subscriptions.UnsubscribeSubject(ctx, subjectID, s.now())
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		metrics.IncSubscriptionsEnded(string(models.EndUnsubscribed))
	}
	s.logger.Info("subject unsubscribed", "subject_id", subjectID, "subscriptions", n)
	return n, nil
}

// handleStageEvent handles POST /api/v1/events/stage
func (s *Server) handleStageEvent(w http.ResponseWriter, r *http.Request) {
	var req StageEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" || req.StageID == "" {
		s.sendError(w, http.StatusBadRequest, "subject_id and stage_id are required")
		return
	}
	at := s.eventTime(req.At)

	if _, err := s.deps.Subjects.MoveToStage(r.Context(), req.SubjectID, req.StageID, at); err != nil {
		s.sendServiceError(w, "move subject", err)
		return
	}

	res, err := s.deps.Engine.HandleStageEntered(r.Context(), req.SubjectID, req.StageID, at)
	if err != nil {
		s.sendServiceError(w, "stage event", err)
		return
	}

	if k := apiKeyFrom(r.Context()); k != nil {
		s.logger.Info("stage event handled", "subject_id", req.SubjectID, "stage_id", req.StageID, "key", k.Name)
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleTriggerEvent handles POST /api/v1/events/trigger
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req TriggerEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SubjectID == "" || req.TriggerType == "" {
		s.sendError(w, http.StatusBadRequest, "subject_id and trigger_type are required")
		return
	}

	res, err := s.deps.Engine.HandleTrigger(r.Context(), req.SubjectID, req.TriggerType, s.eventTime(req.At))
	if err != nil {
		s.sendServiceError(w, "trigger event", err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleDeliveryGet handles GET /api/v1/deliveries/{id}
func (s *Server) handleDeliveryGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Deliveries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, "get delivery", err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleDeliveryStatus handles POST /api/v1/deliveries/{id}/status
func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req DeliveryStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	at := s.eventTime(req.At)

	var applied bool
	var err error
	switch {
	case req.Event != "":
		applied, err = s.deps.Deliveries.RecordEngagement(r.Context(), id, req.Event, at)
	case req.Status.Valid() && req.Status != models.DeliveryPending:
		applied, err = s.applyStatus(r.Context(), id, req.Status, at)
	default:
		s.sendError(w, http.StatusBadRequest, "status or event is required")
		return
	}
	if err != nil {
		s.sendServiceError(w, "delivery status", err)
		return
	}
	s.sendJSON(w, http.StatusOK, DeliveryStatusResponse{Applied: applied})
}

// applyStatus records a transport status callback. Backward or repeated
// callbacks are ignored with a warning.
func (s *Server) applyStatus(ctx context.Context, deliveryID string, status models.DeliveryStatus, at time.Time) (bool, error) {
	applied, err := s.deps.Deliveries.UpdateStatus(ctx, deliveryID, status, at)
	if err != nil {
		return false, err
	}
	metrics.IncDeliveryStatusUpdates(string(status), applied)
	if !applied {
		s.logger.Warn("out-of-order delivery status ignored", "delivery_id", deliveryID, "status", status)
	}
	return applied, nil
}

func (s *Server) eventTime(at *time.Time) time.Time {
	if at == nil || at.IsZero() {
		return s.now()
	}
	return *at
}

// decode reads a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// sendServiceError maps domain errors onto HTTP statuses
func (s *Server) sendServiceError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, campaign.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, campaign.ErrNoApprovedEmails):
		status = http.StatusUnprocessableEntity
	case repository.IsConflict(err), errors.Is(err, repository.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, campaign.ErrGenerationDisabled):
		status = http.StatusNotImplemented
	case errors.Is(err, contentgen.ErrBadResponse):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
		metrics.IncAPIErrors("internal")
	}
	s.sendError(w, status, err.Error())
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	sendJSON(w, status, v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	sendError(w, status, message)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/store"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw models.RawDocument
	if !s.decode(w, r, &raw) {
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == pipeline.OutcomeStored {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *server) handleRetryDeferred(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)
	report, err := s.pipeline.RetryDeferred(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := store.DocumentSearch{
		Query:       strings.TrimSpace(q.Get("q")),
		Keywords:    parseCSV(q.Get("keywords")),
		Source:      strings.TrimSpace(q.Get("source")),
		SourceType:  models.SourceType(strings.ToLower(strings.TrimSpace(q.Get("source_type")))),
		DedupStatus: models.DedupStatus(strings.TrimSpace(q.Get("dedup_status"))),
		From:        clampInt(q.Get("from"), 0, 10_000),
		Size:        clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Start:       parseTime(q.Get("start")),
		End:         parseTime(q.Get("end")),
	}
	if params.SourceType != "" && !params.SourceType.Valid() {
		s.writeError(w, r, faults.Invalid("source_type", "unknown source type "+string(params.SourceType)))
		return
	}

	page, err := s.pipeline.Store().SearchDocuments(ctx, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range page.Items {
		page.Items[i].Embedding = nil
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.pipeline.Store().GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc.Embedding = nil
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)
	statuses := []models.DedupStatus{models.DedupNearDuplicate, models.DedupPossibleDuplicate}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st := models.DedupStatus(raw)
		if !st.Flagged() {
			s.writeError(w, r, faults.Invalid("status", "must be near_duplicate or possible_duplicate"))
			return
		}
		statuses = []models.DedupStatus{st}
	}

	items := make([]models.Document, 0)
	for _, st := range statuses {
		docs, err := s.pipeline.Store().ListDocumentsByDedupStatus(r.Context(), st, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, d := range docs {
			d.Embedding = nil
			items = append(items, d)
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type resolveRequest struct {
	Unique *bool `json:"unique"`
}

func (s *server) handleResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Unique == nil {
		s.writeError(w, r, faults.Invalid("unique", "required"))
		return
	}

	res, err := s.pipeline.ResolveDuplicate(r.Context(), chi.URLParam(r, "id"), *req.Unique)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ClaimFilter{
		Category:   strings.TrimSpace(q.Get("category")),
		Tag:        strings.TrimSpace(q.Get("tag")),
		DocumentID: strings.TrimSpace(q.Get("document_id")),
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := models.ParseClaimStatus(raw)
		if !ok {
			s.writeError(w, r, faults.Invalid("status", "unknown claim status "+raw))
			return
		}
		filter.Status = st
	}
	if raw := q.Get("risk"); raw != "" {
		risk, ok := models.ParseRiskLevel(raw)
		if !ok {
			s.writeError(w, r, faults.Invalid("risk", "unknown risk level "+raw))
			return
		}
		filter.Risk = risk
	}

	limit := clampInt(q.Get("limit"), s.cfg.DefaultPage, s.cfg.MaxPage)
	claims, err := s.pipeline.Store().ListClaims(r.Context(), filter, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if claims == nil {
		claims = []models.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": claims})
}

func (s *server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := s.pipeline.Store().GetClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type transitionRequest struct {
	To        string `json:"to"`
	Version   int64  `json:"version"`
	Risk      string `json:"risk,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Actor     string `json:"actor,omitempty"`
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !s.decode(w, r, &req) {
		return
	}
	to, ok := models.ParseClaimStatus(req.To)
	if !ok {
		s.writeError(w, r, faults.Invalid("to", "unknown claim status "+req.To))
		return
	}
	var risk models.RiskLevel
	if req.Risk != "" {
		if risk, ok = models.ParseRiskLevel(req.Risk); !ok {
			s.writeError(w, r, faults.Invalid("risk", "unknown risk level "+req.Risk))
			return
		}
	}

	claim, err := s.pipeline.Machine().Transition(r.Context(), chi.URLParam(r, "id"), req.Version, to, workflow.TransitionInput{
		Risk:      risk,
		Rationale: req.Rationale,
		Actor:     req.Actor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type verdictRequest struct {
	Version    int64  `json:"version"`
	Conclusion string `json:"conclusion"`
	Rationale  string `json:"rationale"`
	Reviewer   string `json:"reviewer,omitempty"`
}

func (s *server) handlePublishVerdict(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !s.decode(w, r, &req) {
		return
	}
	conclusion, ok := models.ParseConclusion(req.Conclusion)
	if !ok {
		s.writeError(w, r, faults.Invalid("conclusion", "unknown conclusion "+req.Conclusion))
		return
	}

	claim, verdict, err := s.pipeline.Machine().PublishVerdict(r.Context(), chi.URLParam(r, "id"), req.Version, workflow.VerdictInput{
		Conclusion: conclusion,
		Rationale:  req.Rationale,
		Reviewer:   req.Reviewer,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"claim": claim, "verdict": verdict})
}

func (s *server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.pipeline.Store().GetClaim(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	verdicts, err := s.pipeline.Store().ListVerdicts(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if verdicts == nil {
		verdicts = []models.Verdict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": verdicts})
}

type retractRequest struct {
	Version   int64  `json:"version"`
	Rationale string `json:"rationale"`
	Actor     string `json:"actor,omitempty"`
}

func (s *server) handleRetract(w http.ResponseWriter, r *http.Request) {
	var req retractRequest
	if !s.decode(w, r, &req) {
		return
	}
	claim, err := s.pipeline.Machine().Retract(r.Context(), chi.URLParam(r, "id"), req.Version, req.Rationale, req.Actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

func (s *server) handleClaimActors(w http.ResponseWriter, r *http.Request) {
	actors, err := s.pipeline.Store().ActorsByClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if actors == nil {
		actors = []models.Actor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": actors})
}

type actorRequest struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	Kind    string   `json:"kind,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

func (s *server) handlePutActor(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if !s.decode(w, r, &req) {
		return
	}
	kind, ok := models.ParseActorKind(req.Kind)
	if !ok {
		s.writeError(w, r, faults.Invalid("kind", "unknown actor kind "+req.Kind))
		return
	}
	actor := models.Actor{
		ID:        strings.TrimSpace(req.ID),
		Name:      strings.TrimSpace(req.Name),
		Kind:      kind,
		Aliases:   req.Aliases,
		CreatedAt: time.Now().UTC(),
	}
	if err := models.ValidateActor(actor); err != nil {
		s.writeError(w, r, err)
		return
	}

	saved, err := s.pipeline.Store().PutActor(r.Context(), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *server) handleGetActor(w http.ResponseWriter, r *http.Request) {
	actor, err := s.pipeline.Store().GetActor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

type linkRequest struct {
	ClaimID string `json:"claim_id"`
}

func (s *server) handleLinkClaim(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ClaimID) == "" {
		s.writeError(w, r, faults.Invalid("claim_id", "required"))
		return
	}

	actorID := chi.URLParam(r, "id")
	if err := s.pipeline.Store().LinkActorClaim(r.Context(), actorID, req.ClaimID); err != nil {
		s.writeError(w, r, err)
		return
	}
	// A new link can change the score when the claim already has a verdict.
	profile, err := s.pipeline.Scorer().Recompute(r.Context(), actorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) handleRecomputeRisk(w http.ResponseWriter, r *http.Request) {
	profile, err := s.pipeline.Scorer().Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, faults.Invalid("body", err.Error()))
		return false
	}
	return true
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, faults.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, faults.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, faults.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, faults.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	case errors.Is(err, faults.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	var ve *faults.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("err", err),
		)
	}
	writeJSON(w, status, resp)
}

func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	return nil
}

func parseCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluentvoice/lesson-gateway/internal/store"
	"github.com/fluentvoice/lesson-gateway/internal/ws"
)

const defaultEventLimit = 100

type deps struct {
	store     *store.Store
	wsHandler *ws.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/lesson", d.wsHandler)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/students/{id}/knowledge", d.handleKnowledge)
	mux.HandleFunc("GET /api/students/{id}/events", d.handleEvents)
	mux.HandleFunc("GET /api/rules", d.handleRulesList)
	mux.HandleFunc("POST /api/rules", d.handleRuleCreate)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleKnowledge returns a student's current knowledge snapshot.
func (d deps) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	sk, err := d.store.GetStudentKnowledge(r.Context(), r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sk)
}

// handleEvents returns a student's knowledge event log, newest first.
func (d deps) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultEventLimit)
	events, err := d.store.KnowledgeEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"events": events, "count": len(events)})
}

// handleRulesList returns every rule applying to a student; with ?type= it
// narrows to the single winning rule of that type.
func (d deps) handleRulesList(w http.ResponseWriter, r *http.Request) {
	studentID := r.URL.Query().Get("student_id")
	if studentID == "" {
		http.Error(w, "student_id is required", http.StatusBadRequest)
		return
	}
	if ruleType := r.URL.Query().Get("type"); ruleType != "" {
		rule, err := d.store.EffectiveRule(r.Context(), studentID, ruleType)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no active rule of that type", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rule)
		return
	}
	ruleRows, err := d.store.ActiveRules(r.Context(), studentID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rules": ruleRows})
}

type ruleRequest struct {
	Scope     string `json:"scope"`
	StudentID string `json:"student_id"`
	Type      string `json:"type"`
	Priority  int    `json:"priority"`
	Value     string `json:"value"`
}

// handleRuleCreate persists an operator-authored rule. It lands in every
// subsequent session for the matching scope.
func (d deps) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateRule(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule := &store.Rule{
		Scope:     store.RuleScope(req.Scope),
		StudentID: req.StudentID,
		Type:      req.Type,
		Priority:  req.Priority,
		Value:     req.Value,
		IsActive:  true,
		CreatedBy: "operator",
	}
	if err := d.store.UpsertRule(r.Context(), rule); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("rule created", "scope", req.Scope, "type", req.Type, "student_id", req.StudentID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rule)
}

func validateRule(req ruleRequest) error {
	switch store.RuleScope(req.Scope) {
	case store.ScopeGlobal:
		if req.StudentID != "" {
			return errors.New("global rules must not carry a student_id")
		}
	case store.ScopeStudent:
		if req.StudentID == "" {
			return errors.New("student scope requires student_id")
		}
	default:
		return errors.New("scope must be global or student")
	}
	if req.Type == "" {
		return errors.New("type is required")
	}
	if req.Value == "" {
		return errors.New("value is required")
	}
	if req.Priority < 0 || req.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"trender/internal/core"
)

// HealthResponse reports server liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// TrendingRequest parameterizes a global trending run.
type TrendingRequest struct {
	WindowHours int `json:"window_hours"`
	KGlobal     int `json:"k_global"`
}

// TopicsRequest parameterizes a per-topic run.
type TopicsRequest struct {
	WindowHours int `json:"window_hours"`
}

// PickResponse is the wire shape of one selected cluster.
type PickResponse struct {
	ClusterID      int64   `json:"cluster_id"`
	CompositeScore float64 `json:"composite_score"`
	FinalScore     float64 `json:"final_score"`
	SelectionType  string  `json:"selection_type"`
	TopicKey       string  `json:"topic_key,omitempty"`
	TopicPriority  float64 `json:"topic_priority,omitempty"`
	Rank           int     `json:"rank"`
}

// SelectionResponse is the wire shape of a full selection.
type SelectionResponse struct {
	GlobalPicks []PickResponse `json:"global_picks"`
	TopicPicks  []PickResponse `json:"topic_picks"`
	TotalPicks  int            `json:"total_picks"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

var serverStartTime = time.Now()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(serverStartTime).Round(time.Second).String(),
	})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	var req TrendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WindowHours <= 0 {
		req.WindowHours = 24
	}

	sel, err := s.runner.RunTrending(r.Context(), req.WindowHours, req.KGlobal)
	if err != nil {
		s.log.Error().Err(err).Msg("Trending run failed")
		s.respondError(w, http.StatusInternalServerError, "trending run failed")
		return
	}

	s.respondJSON(w, http.StatusOK, toSelectionResponse(sel))
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	var req TopicsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WindowHours <= 0 {
		req.WindowHours = 24
	}

	results, err := s.runner.RunTopics(r.Context(), req.WindowHours)
	if err != nil {
		s.log.Error().Err(err).Msg("Topic runs failed")
		s.respondError(w, http.StatusInternalServerError, "topic runs failed")
		return
	}

	out := make(map[string]SelectionResponse, len(results))
	for key, sel := range results {
		out[key] = toSelectionResponse(sel)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func toSelectionResponse(sel core.Selection) SelectionResponse {
	resp := SelectionResponse{
		GlobalPicks: make([]PickResponse, 0, len(sel.GlobalPicks)),
		TopicPicks:  make([]PickResponse, 0, len(sel.TopicPicks)),
		TotalPicks:  sel.TotalPicks(),
	}
	for _, p := range sel.GlobalPicks {
		resp.GlobalPicks = append(resp.GlobalPicks, toPickResponse(p))
	}
	for _, p := range sel.TopicPicks {
		resp.TopicPicks = append(resp.TopicPicks, toPickResponse(p))
	}
	return resp
}

func toPickResponse(p core.SelectedPick) PickResponse {
	final := p.ScoreTotal
	if p.SelectionType == core.SelectionTopic {
		final = p.AdjustedScore
	}
	return PickResponse{
		ClusterID:      p.ClusterID,
		CompositeScore: p.ScoreTotal,
		FinalScore:     final,
		SelectionType:  string(p.SelectionType),
		TopicKey:       p.TopicKey,
		TopicPriority:  p.TopicPriority,
		Rank:           p.Rank,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, ErrorResponse{Error: msg})
}

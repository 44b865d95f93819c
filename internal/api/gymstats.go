package api

import (
	"net/http"
	"time"
)

type gymStatsResponse struct {
	GymID               int64     `json:"gym_id"`
	MemberCount         int       `json:"member_count"`
	ActiveSubscriptions int       `json:"active_subscriptions"`
	RefreshedAt         time.Time `json:"refreshed_at"`
}

func (s *Server) handleGetGymStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gymStats.GetAll(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	resp := make([]gymStatsResponse, 0, len(stats))
	for _, st := range stats {
		resp = append(resp, gymStatsResponse{
			GymID:               st.GymID,
			MemberCount:         st.MemberCount,
			ActiveSubscriptions: st.ActiveSubscriptions,
			RefreshedAt:         st.RefreshedAt,
		})
	}
	JSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleRefreshGymStats(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.gymStats.RefreshAll(r.Context(), time.Now().UTC())
	if err != nil {
		Error(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "gym stats refreshed", "gyms", refreshed)
	JSON(w, r, http.StatusOK, map[string]int{"refreshed": refreshed})
}

package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "GoTP API",
		Version:     "v1",
		Description: "Time-partitioned scheduling daemon: per-CPU partition windows, synthetic workloads and the scheduling audit trail",
		Endpoints: []endpointInfo{
			{"/api/v1/cpus", []string{"GET"}, "Per-CPU scheduler status"},
			{"/api/v1/cpus/{cpu}", []string{"GET"}, "One CPU: schedule state, current window and partition"},
			{"/api/v1/cpus/{cpu}/schedule", []string{"GET", "PUT", "DELETE"}, "Partition schedule control. GET accepts ?max_windows=N"},
			{"/api/v1/cpus/{cpu}/start", []string{"POST"}, "Begin window rotation"},
			{"/api/v1/cpus/{cpu}/stop", []string{"POST"}, "Halt window rotation, keeping the table"},
			{"/api/v1/threads", []string{"GET", "POST"}, "Synthetic thread management"},
			{"/api/v1/threads/{id}", []string{"GET", "DELETE"}, "Single thread operations"},
			{"/api/v1/threads/{id}/policy", []string{"PUT"}, "Change scheduling policy, priority or partition"},
			{"/api/v1/threads/{id}/migrate", []string{"POST"}, "Move a thread to another CPU"},
			{"/api/v1/events", []string{"GET"}, "Audit trail of control calls and overruns. Accepts ?limit, ?offset, ?type, ?cpu"},
			{"/api/v1/sse/events", []string{"GET"}, "Live event stream (Server-Sent Events)"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}

package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/gridbalance/pkg/balancer"
	"github.com/cuemby/gridbalance/pkg/events"
	"github.com/cuemby/gridbalance/pkg/types"
)

type pickResponse struct {
	NodeID  string `json:"nodeId"`
	Address string `json:"address,omitempty"`
}

type submitRequest struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var taskEvents = map[string]events.EventType{
	"mapped":   events.EventJobMapped,
	"finished": events.EventTaskFinished,
	"failed":   events.EventTaskFailed,
}

// registerAPI adds the node's operator endpoints to mux
func registerAPI(mux *http.ServeMux, n *node) {
	mux.HandleFunc("GET /v1/nodes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, n.tracker.Nodes())
	})

	mux.HandleFunc("GET /v1/pick", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var b balancer.Balancer
		switch q.Get("balancer") {
		case "", "adaptive":
			b = n.adaptive
		case "roundrobin":
			b = n.rr
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown balancer"})
			return
		}

		topology := n.tracker.Nodes()
		var session types.TaskSession
		if id := q.Get("session"); id != "" {
			session = types.NewSession(id, topology.IDs()...)
		}
		var job *types.Job
		if id := q.Get("job"); id != "" {
			job = &types.Job{ID: id, SessionID: q.Get("session")}
		}

		node, err := b.PickNode(r.Context(), session, topology, job)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, balancer.ErrNoAliveNodes) || errors.Is(err, balancer.ErrEmptyTopology) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, pickResponse{NodeID: node.ID, Address: node.Address})
	})

	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		session := types.NewSession(req.SessionID, n.tracker.Nodes().IDs()...)
		if err := n.agent.Submit(&types.Job{ID: req.ID, SessionID: req.SessionID}, session); err != nil {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /v1/jobs/{id}/complete", func(w http.ResponseWriter, r *http.Request) {
		if !n.agent.Complete(r.PathValue("id")) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "job is not active"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/tasks/{session}/{event}", func(w http.ResponseWriter, r *http.Request) {
		typ, ok := taskEvents[r.PathValue("event")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown task event"})
			return
		}
		n.broker.Publish(events.TaskEvent(typ, r.PathValue("session")))
		w.WriteHeader(http.StatusAccepted)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

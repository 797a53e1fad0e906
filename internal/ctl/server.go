package ctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dantte-lp/fpr/internal/fpr"
)

// errUnknownMode is returned for a POST /v1/mode body naming no valid role.
var errUnknownMode = errors.New("unknown mode, expected client, host, or extender")

// errUnknownAction is returned for an unrecognized peer action.
var errUnknownAction = errors.New("unknown peer action")

// Server exposes one fpr.Network over the control-plane HTTP API.
type Server struct {
	net    *fpr.Network
	name   string
	logger *slog.Logger
}

// NewServer builds a control API server for net. name is the node's display
// name, echoed in the status view.
func NewServer(net *fpr.Network, name string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		net:    net,
		name:   name,
		logger: logger.With(slog.String("component", "ctl_api")),
	}
}

// Handler returns the HTTP routing table for the control API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/peers", s.handleListPeers)
	mux.HandleFunc("GET /v1/peers/{mac}", s.handleGetPeer)
	mux.HandleFunc("POST /v1/peers/{mac}/{action}", s.handlePeerAction)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("POST /v1/stats/reset", s.handleResetStats)
	mux.HandleFunc("GET /v1/routes", s.handleRoutes)
	mux.HandleFunc("POST /v1/mode", s.handleSetMode)

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusView{
		Name:            s.name,
		MAC:             s.net.LocalMAC().String(),
		Mode:            s.net.Mode().String(),
		Lifecycle:       s.net.Lifecycle().String(),
		ProtocolVersion: s.net.ProtocolVersionString(),
		ConnectedPeers:  s.net.GetConnectedCount(),
	})
}

func (s *Server) handleListPeers(w http.ResponseWriter, _ *http.Request) {
	snaps := s.net.ListAllPeers()

	views := make([]PeerView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, peerToView(snap))
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	mac, err := fpr.ParseMAC(r.PathValue("mac"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := s.net.GetPeerInfo(mac)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, peerToView(snap))
}

func (s *Server) handlePeerAction(w http.ResponseWriter, r *http.Request) {
	mac, err := fpr.ParseMAC(r.PathValue("mac"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch action := r.PathValue("action"); action {
	case "approve":
		err = s.net.ApprovePeer(mac)
	case "reject":
		err = s.net.RejectPeer(mac)
	case "block":
		err = s.net.BlockPeer(mac)
	case "unblock":
		err = s.net.UnblockPeer(mac)
	case "disconnect":
		err = s.net.DisconnectPeer(mac)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", errUnknownAction, action))
		return
	}

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsToView(s.net.Stats()))
}

func (s *Server) handleResetStats(w http.ResponseWriter, _ *http.Request) {
	s.net.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	snaps := s.net.ListAllPeers()

	routes := make([]RouteView, 0, len(snaps))

	for _, snap := range snaps {
		if !snap.HasRoute {
			continue
		}

		routes = append(routes, RouteView{
			Origin:   snap.MAC.String(),
			NextHop:  snap.NextHopMAC.String(),
			HopCount: snap.HopCount,
			State:    snap.State.String(),
		})
	}

	writeJSON(w, http.StatusOK, routes)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body modeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode mode body: %w", err))
		return
	}

	var mode fpr.Mode

	switch body.Mode {
	case "client":
		mode = fpr.ModeClient
	case "host":
		mode = fpr.ModeHost
	case "extender":
		mode = fpr.ModeExtender
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", errUnknownMode, body.Mode))
		return
	}

	if err := s.net.SetMode(mode); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.logger.Info("mode changed via control api", slog.String("mode", body.Mode))
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps the fpr error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var fprErr *fpr.Error
	if !errors.As(err, &fprErr) {
		return http.StatusInternalServerError
	}

	switch fprErr.Kind {
	case fpr.KindNotFound:
		return http.StatusNotFound
	case fpr.KindInvalidArgument:
		return http.StatusBadRequest
	case fpr.KindInvalidState:
		return http.StatusConflict
	case fpr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

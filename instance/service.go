package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashiqtasdid/pegasus-interface-sub000/auth"
	"github.com/ashiqtasdid/pegasus-interface-sub000/eventlog"
	"github.com/ashiqtasdid/pegasus-interface-sub000/liveness"
	resp "github.com/ashiqtasdid/pegasus-interface-sub000/response"
	"github.com/ashiqtasdid/pegasus-interface-sub000/runtime"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SnapshotSource reads cached liveness snapshots. *liveness.Cache satisfies
// it.
type SnapshotSource interface {
	Get(serverID string) (*liveness.Snapshot, error)
}

// ServiceOptions contains the configuration for the instance API router
type ServiceOptions struct {
	InstanceManager *Manager
	Controller      *Controller
	EventLog        *eventlog.Manager
	Adapter         runtime.Adapter
	Snapshots       SnapshotSource // optional
	CommandRouter   http.Handler   // mounted under /{id}/commands
	Logger          *zap.Logger
}

// Service is the instance API router
type Service struct {
	ServiceOptions

	validate *validator.Validate
}

// NewService will create an instance of the instance API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.InstanceManager == nil {
		return nil, fmt.Errorf("nil InstanceManager is invalid")
	}
	if option.Controller == nil {
		return nil, fmt.Errorf("nil Controller is invalid")
	}
	if option.EventLog == nil {
		return nil, fmt.Errorf("nil EventLog is invalid")
	}
	if option.Adapter == nil {
		return nil, fmt.Errorf("nil Adapter is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// NewInstanceRequest contains the request from client to provision a new
// instance.
type NewInstanceRequest struct {
	Name                    string   `json:"name" validate:"required,min=3,max=32"`
	MaxPlayers              int      `json:"maxPlayers" validate:"required,min=1,max=200"`
	Mode                    string   `json:"mode" validate:"required,oneof=survival creative adventure spectator"`
	Difficulty              string   `json:"difficulty" validate:"required,oneof=peaceful easy normal hard"`
	MemoryMB                int      `json:"memoryMb" validate:"min=0,max=16384"`
	Extensions              []string `json:"extensions" validate:"max=32"`
	AutoShutdown            *bool    `json:"autoShutdown"`
	InactiveShutdownMinutes int      `json:"inactiveShutdownMinutes" validate:"min=0,max=1440"`
}

func (s *Service) newInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)

	logger := s.Logger.With(zap.String("OwnerID", claims.ID))

	var req NewInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	autoShutdown := true
	if req.AutoShutdown != nil {
		autoShutdown = *req.AutoShutdown
	}
	minutes := req.InactiveShutdownMinutes
	if minutes == 0 {
		minutes = 15
	}

	inst, err := s.Controller.Create(ctx, actorOf(claims), claims.ID, CreateOption{
		Name:                    req.Name,
		MaxPlayers:              req.MaxPlayers,
		Mode:                    req.Mode,
		Difficulty:              req.Difficulty,
		MemoryMB:                req.MemoryMB,
		Extensions:              req.Extensions,
		AutoShutdown:            autoShutdown,
		InactiveShutdownMinutes: minutes,
	})
	if err != nil {
		logger.Error("Unable to create instance",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) listInstances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)

	results, err := s.InstanceManager.List(ctx, ListOption{
		OwnerID: claims.ID,
		Status:  r.URL.Query().Get("status"),
	})
	if err != nil {
		s.Logger.Error("Unable to list instances by owner id",
			zap.String("OwnerID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of instances"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// visibleInstance loads the instance and hides other owners' instances
// behind a not-found, like any other missing resource.
func (s *Service) visibleInstance(ctx context.Context, claims *auth.Claims, id string) (*Instance, *resp.Error) {
	inst, err := s.InstanceManager.GetByID(ctx, id)
	if err != nil {
		s.Logger.Error("Unable to query instance",
			zap.String("InstanceID", id),
			zap.Error(err),
		)
		return nil, resp.ErrUnexpected().AddMessages("Cannot get details about the instance")
	}
	if inst == nil || (!claims.Admin && inst.OwnerID != claims.ID) {
		return nil, resp.ErrNotFound().AddMessages("Cannot find instance with specific ID")
	}
	return inst, nil
}

func (s *Service) getInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)

	inst, respErr := s.visibleInstance(ctx, claims, chi.URLParam(r, "id"))
	if respErr != nil {
		resp.WriteError(w, r, respErr)
		return
	}

	resp.WriteResponse(w, r, inst)
}

// ControlRequest contains the request from client to control an existing
// instance.
type ControlRequest struct {
	Action string `json:"action" validate:"required,oneof=Start Stop Restart"`
}

func (s *Service) controlInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("OwnerID", claims.ID),
		zap.String("InstanceID", instanceID),
	)

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown action"))
		return
	}

	var inst *Instance
	var err error
	actor := actorOf(claims)
	switch req.Action {
	case "Start":
		inst, err = s.Controller.Start(ctx, actor, instanceID)
	case "Stop":
		inst, err = s.Controller.Stop(ctx, actor, instanceID)
	case "Restart":
		inst, err = s.Controller.Restart(ctx, actor, instanceID)
	}
	if err != nil {
		logger.Warn("Control action did not complete",
			zap.String("Action", req.Action),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

// UpdateInstanceRequest carries the mutable configuration subset. Omitted
// fields are left unchanged.
type UpdateInstanceRequest struct {
	Name                    *string `json:"name" validate:"omitempty,min=3,max=32"`
	MaxPlayers              *int    `json:"maxPlayers" validate:"omitempty,min=1,max=200"`
	Mode                    *string `json:"mode" validate:"omitempty,oneof=survival creative adventure spectator"`
	Difficulty              *string `json:"difficulty" validate:"omitempty,oneof=peaceful easy normal hard"`
	AutoShutdown            *bool   `json:"autoShutdown"`
	InactiveShutdownMinutes *int    `json:"inactiveShutdownMinutes" validate:"omitempty,min=1,max=1440"`
}

func (s *Service) updateInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	var req UpdateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	inst, err := s.Controller.UpdateConfig(ctx, actorOf(claims), instanceID, ConfigPatch{
		Name:                    req.Name,
		MaxPlayers:              req.MaxPlayers,
		Mode:                    req.Mode,
		Difficulty:              req.Difficulty,
		AutoShutdown:            req.AutoShutdown,
		InactiveShutdownMinutes: req.InactiveShutdownMinutes,
	})
	if err != nil {
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) deleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	if err := s.Controller.Delete(ctx, actorOf(claims), instanceID, false); err != nil {
		s.Logger.Warn("Unable to delete instance",
			zap.String("InstanceID", instanceID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivityRequest is a liveness observation pushed by the owner's game
// plugin.
type ActivityRequest struct {
	PlayerCount   int      `json:"playerCount" validate:"min=0,max=1000"`
	OnlinePlayers []string `json:"onlinePlayers" validate:"max=1000"`
}

func (s *Service) pushActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	inst, err := s.Controller.PushActivity(ctx, actorOf(claims), instanceID, req.PlayerCount, req.OnlinePlayers)
	if err != nil {
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) liveStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)

	inst, respErr := s.visibleInstance(ctx, claims, chi.URLParam(r, "id"))
	if respErr != nil {
		resp.WriteError(w, r, respErr)
		return
	}

	if s.Snapshots == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Live status is not enabled"))
		return
	}
	snap, err := s.Snapshots.Get(inst.ID)
	if err != nil {
		s.Logger.Error("Unable to read liveness snapshot",
			zap.String("InstanceID", inst.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get live status"))
		return
	}
	if snap == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("No fresh liveness snapshot"))
		return
	}

	resp.WriteResponse(w, r, snap)
}

func (s *Service) getLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)

	inst, respErr := s.visibleInstance(ctx, claims, chi.URLParam(r, "id"))
	if respErr != nil {
		resp.WriteError(w, r, respErr)
		return
	}

	entries, err := s.EventLog.List(ctx, eventlog.ListOption{
		ServerID: inst.ID,
		Limit:    100,
	})
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get instance logs"))
		return
	}

	// best-effort console tail; the event log is still returned when the
	// runtime has nothing for us
	var console []string
	if inst.RuntimeID != "" {
		console, err = s.Adapter.TailLogs(ctx, inst.RuntimeID, 100)
		if err != nil {
			s.Logger.Debug("Unable to tail runtime logs",
				zap.String("InstanceID", inst.ID),
				zap.Error(err),
			)
			console = []string{}
		}
	}

	resp.WriteResponse(w, r, map[string]interface{}{
		"events":  entries,
		"console": console,
	})
}

func actorOf(claims *auth.Claims) Actor {
	return Actor{
		ID:    claims.ID,
		Admin: claims.Admin,
	}
}

// Router will return the routes under instance API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.listInstances)
	r.Post("/", s.newInstance)
	r.Get("/{id}", s.getInstance)
	r.Post("/{id}", s.controlInstance)
	r.Patch("/{id}", s.updateInstance)
	r.Delete("/{id}", s.deleteInstance)
	r.Post("/{id}/activity", s.pushActivity)
	r.Get("/{id}/live", s.liveStatus)
	r.Get("/{id}/logs", s.getLogs)
	if s.CommandRouter != nil {
		r.Mount("/{id}/commands", s.CommandRouter)
	}

	return r
}

// Package admin exposes the operator-only API: fleet listing, forced
// lifecycle actions, analytics maintenance, and an on-demand health check
// pass. Every route requires admin claims.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ashiqtasdid/pegasus-interface-sub000/auth"
	"github.com/ashiqtasdid/pegasus-interface-sub000/instance"
	resp "github.com/ashiqtasdid/pegasus-interface-sub000/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// HealthChecker runs one probe pass over all running instances.
// *monitor.Monitor satisfies it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServiceOptions contains the configuration for the admin API router
type ServiceOptions struct {
	InstanceManager *instance.Manager
	Controller      *instance.Controller
	HealthChecker   HealthChecker
	Logger          *zap.Logger
}

// Service is the admin API router
type Service struct {
	ServiceOptions

	validate *validator.Validate
}

// NewService will create an instance of the admin API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.InstanceManager == nil {
		return nil, fmt.Errorf("nil InstanceManager is invalid")
	}
	if option.Controller == nil {
		return nil, fmt.Errorf("nil Controller is invalid")
	}
	if option.HealthChecker == nil {
		return nil, fmt.Errorf("nil HealthChecker is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

func (s *Service) listAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	results, err := s.InstanceManager.List(ctx, instance.ListOption{
		OwnerID: r.URL.Query().Get("owner"),
		Status:  r.URL.Query().Get("status"),
	})
	if err != nil {
		s.Logger.Error("Unable to list instances",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of instances"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// ControlRequest contains the forced action to run against an instance
type ControlRequest struct {
	Action string `json:"action" validate:"required,oneof=Start Stop Restart"`
}

func (s *Service) controlInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown action"))
		return
	}

	actor := instance.Actor{ID: claims.ID, Admin: true}
	var inst *instance.Instance
	var err error
	switch req.Action {
	case "Start":
		inst, err = s.Controller.Start(ctx, actor, instanceID)
	case "Stop":
		inst, err = s.Controller.Stop(ctx, actor, instanceID)
	case "Restart":
		inst, err = s.Controller.Restart(ctx, actor, instanceID)
	}
	if err != nil {
		s.Logger.Warn("Forced control action did not complete",
			zap.String("InstanceID", instanceID),
			zap.String("Action", req.Action),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) deleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	force := r.URL.Query().Get("force") == "true"
	actor := instance.Actor{ID: claims.ID, Admin: true}
	if err := s.Controller.Delete(ctx, actor, instanceID, force); err != nil {
		s.Logger.Warn("Unable to delete instance",
			zap.String("InstanceID", instanceID),
			zap.Bool("Force", force),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ShutdownPolicyRequest toggles the idle auto-stop policy for an instance
type ShutdownPolicyRequest struct {
	AutoShutdown            *bool `json:"autoShutdown" validate:"required"`
	InactiveShutdownMinutes *int  `json:"inactiveShutdownMinutes" validate:"omitempty,min=1,max=1440"`
}

func (s *Service) updateShutdownPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	var req ShutdownPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	inst, err := s.Controller.UpdateConfig(ctx, instance.Actor{ID: claims.ID, Admin: true}, instanceID, instance.ConfigPatch{
		AutoShutdown:            req.AutoShutdown,
		InactiveShutdownMinutes: req.InactiveShutdownMinutes,
	})
	if err != nil {
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) resetAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	inst, err := s.Controller.ResetAnalytics(ctx, instance.Actor{ID: claims.ID, Admin: true}, instanceID)
	if err != nil {
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, inst)
}

func (s *Service) runHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.HealthChecker.HealthCheck(ctx); err != nil {
		s.Logger.Error("Health check pass did not complete",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Health check pass did not complete"))
		return
	}

	resp.WriteResponse(w, r, map[string]string{"status": "completed"})
}

func (s *Service) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.FromContext(r.Context())
		if claims == nil || !claims.Admin {
			resp.WriteError(w, r, resp.ErrForbidden())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Router will return the routes under admin API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.adminOnly)
	r.Get("/instances", s.listAll)
	r.Post("/instances/{id}", s.controlInstance)
	r.Delete("/instances/{id}", s.deleteInstance)
	r.Patch("/instances/{id}/shutdown-policy", s.updateShutdownPolicy)
	r.Post("/instances/{id}/analytics/reset", s.resetAnalytics)
	r.Post("/health-check", s.runHealthCheck)

	return r
}

package command

import (
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

// ServiceOptions contains the configuration for the command API router
type ServiceOptions struct {
	Executor       *Executor
	CommandManager *Manager
	Instances      InstanceSource
	Logger         *zap.Logger
}

// Service is the command API router. It is mounted under an instance route,
// so the instance id comes from the parent's URL parameter.
type Service struct {
	ServiceOptions

	validate *validator.Validate
}

// NewService will create an instance of the command API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Executor == nil {
		return nil, fmt.Errorf("nil Executor is invalid")
	}
	if option.CommandManager == nil {
		return nil, fmt.Errorf("nil CommandManager is invalid")
	}
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
		validate:       validator.New(),
	}, nil
}

// ExecuteRequest contains the command text to dispatch to a running
// instance.
type ExecuteRequest struct {
	Command string `json:"command" validate:"required,min=1,max=512"`
}

func (s *Service) executeCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	logger := s.Logger.With(
		zap.String("IssuerID", claims.ID),
		zap.String("InstanceID", instanceID),
	)

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	cmd, err := s.Executor.Execute(ctx, instance.Actor{ID: claims.ID, Admin: claims.Admin}, instanceID, req.Command)
	if err != nil {
		logger.Warn("Command was not dispatched",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.FromDomain(err))
		return
	}

	resp.WriteResponse(w, r, cmd)
}

func (s *Service) commandHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := auth.FromContext(ctx)
	instanceID := chi.URLParam(r, "id")

	inst, err := s.Instances.GetByID(ctx, instanceID)
	if err != nil {
		s.Logger.Error("Unable to query instance",
			zap.String("InstanceID", instanceID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get command history"))
		return
	}
	if inst == nil || (!claims.Admin && inst.OwnerID != claims.ID) {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find instance with specific ID"))
		return
	}

	history, err := s.CommandManager.History(ctx, instanceID, 100)
	if err != nil {
		s.Logger.Error("Unable to query command history",
			zap.String("InstanceID", instanceID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get command history"))
		return
	}

	resp.WriteResponse(w, r, history)
}

// Router will return the routes under command API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.executeCommand)
	r.Get("/", s.commandHistory)

	return r
}

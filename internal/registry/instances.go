package registry

import (
	"context"
	stderrors "errors"
	"time"

	"screen-service/internal/auth"
	"screen-service/internal/backend"
	"screen-service/internal/cache"
	"screen-service/internal/database"
	"screen-service/internal/models"
	"screen-service/pkg/errors"

	"go.uber.org/zap"
)

// Display used when neither the instance nor its backend type set one
const (
	fallbackWidth    = 800
	fallbackHeight   = 480
	fallbackBitDepth = 4
)

// InstanceRegistry manages backend types, instances and device assignments
type InstanceRegistry struct {
	repo     database.Repository
	cache    cache.Cache
	backends backend.Factory
	tokens   *auth.TokenService
	typeTTL  time.Duration
	logger   *zap.Logger
}

// NewInstanceRegistry creates an instance registry
func NewInstanceRegistry(
	repo database.Repository,
	c cache.Cache,
	backends backend.Factory,
	tokens *auth.TokenService,
	typeTTL time.Duration,
	logger *zap.Logger,
) *InstanceRegistry {
	return &InstanceRegistry{
		repo:     repo,
		cache:    c,
		backends: backends,
		tokens:   tokens,
		typeTTL:  typeTTL,
		logger:   logger,
	}
}

// Create adds an instance of an active backend type. With auto-initialize
// (the default) the backend is contacted right away; an init failure leaves
// the instance pending rather than failing the create.
func (r *InstanceRegistry) Create(ctx context.Context, req models.InstanceCreate) (*models.Instance, error) {
	bt, err := r.GetType(ctx, req.BackendTypeID)
	if err != nil {
		return nil, err
	}
	if !bt.IsActive {
		return nil, errors.Newf(errors.ErrInvalidRequest, "Backend type '%s' is not active", bt.TypeID)
	}

	legacyToken, err := auth.GenerateDeviceSecret()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	inst := &models.Instance{
		InstanceID:    newID("inst_"),
		Name:          req.Name,
		Type:          bt.TypeID,
		BackendTypeID: bt.TypeID,
		AccessToken:   legacyToken,
		Display:       mergeDisplay(bt.DefaultDisplay, req.DisplayWidth, req.DisplayHeight, req.DisplayBitDepth),
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.repo.CreateInstance(ctx, inst); err != nil {
		r.logger.Error("Failed to create instance", zap.String("name", req.Name), zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	r.logger.Info("Instance created",
		zap.String("instance_id", inst.InstanceID),
		zap.String("backend_type", bt.TypeID),
	)

	if req.AutoInitialize == nil || *req.AutoInitialize {
		initialized, err := r.initialize(ctx, inst, bt)
		if err != nil {
			r.logger.Warn("Auto-initialization failed; instance left pending",
				zap.String("instance_id", inst.InstanceID),
				zap.Error(err),
			)
			return inst, nil
		}
		return initialized, nil
	}
	return inst, nil
}

// Initialize (re)registers the instance with its backend. Failures are
// returned to the caller.
func (r *InstanceRegistry) Initialize(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, bt, err := r.withType(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return r.initialize(ctx, inst, bt)
}

func (r *InstanceRegistry) initialize(ctx context.Context, inst *models.Instance, bt *models.BackendType) (*models.Instance, error) {
	display := resolveDisplay(inst.Display, bt.DefaultDisplay)

	token, err := r.tokens.Issue(inst.InstanceID, auth.KindInstanceAccess, 0, "")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}

	resp, err := r.backends.ForType(bt).Init(ctx, inst.InstanceID, display, token)
	if err != nil {
		se := errors.As(err)
		return nil, errors.Newf(se, "Failed to initialize with backend: %s", se.Message)
	}
	if resp.Display != nil && resp.Display.Width > 0 && resp.Display.Height > 0 {
		display = *resp.Display
	}

	updated, err := r.repo.UpdateInstance(ctx, inst.InstanceID, func(i *models.Instance) error {
		now := time.Now().UTC()
		i.Initialized = true
		i.InitializedAt = &now
		i.NeedsConfiguration = resp.ConfigurationURL != ""
		i.ConfigurationURL = resp.ConfigurationURL
		i.Ready = !i.NeedsConfiguration
		d := display
		i.Display = &d
		return nil
	})
	if err != nil {
		return nil, r.instanceError(inst.InstanceID, err)
	}

	r.logger.Info("Instance initialized",
		zap.String("instance_id", inst.InstanceID),
		zap.Bool("needs_configuration", updated.NeedsConfiguration),
	)
	return updated, nil
}

// RefreshStatus pulls readiness from the backend
func (r *InstanceRegistry) RefreshStatus(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, bt, err := r.withType(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	st, err := r.backends.ForType(bt).Status(ctx, inst.InstanceID)
	if err != nil {
		se := errors.As(err)
		return nil, errors.Newf(se, "Failed to get status from backend: %s", se.Message)
	}

	updated, err := r.repo.UpdateInstance(ctx, instanceID, func(i *models.Instance) error {
		i.Ready = st.Ready
		i.NeedsConfiguration = st.NeedsConfiguration
		i.ConfigurationURL = st.ConfigurationURL
		return nil
	})
	if err != nil {
		return nil, r.instanceError(instanceID, err)
	}
	return updated, nil
}

// Update changes an instance's name or display
func (r *InstanceRegistry) Update(ctx context.Context, instanceID string, req models.InstanceUpdate) (*models.Instance, error) {
	updated, err := r.repo.UpdateInstance(ctx, instanceID, func(i *models.Instance) error {
		if req.Name != nil {
			i.Name = *req.Name
		}
		i.Display = mergeDisplay(i.Display, req.DisplayWidth, req.DisplayHeight, req.DisplayBitDepth)
		return nil
	})
	if err != nil {
		return nil, r.instanceError(instanceID, err)
	}
	return updated, nil
}

// Delete removes an instance. The backend is told first on a best-effort
// basis; assignments and active pointers are then cleared with the row.
func (r *InstanceRegistry) Delete(ctx context.Context, instanceID string) error {
	inst, err := r.Get(ctx, instanceID)
	if err != nil {
		return err
	}

	if inst.Initialized && inst.BackendTypeID != "" {
		if bt, err := r.GetType(ctx, inst.BackendTypeID); err == nil {
			if err := r.backends.ForType(bt).Delete(ctx, instanceID); err != nil {
				r.logger.Warn("Failed to notify backend about instance deletion",
					zap.String("instance_id", instanceID),
					zap.Error(err),
				)
			}
		}
	}

	if err := r.repo.DeleteInstance(ctx, instanceID); err != nil {
		return r.instanceError(instanceID, err)
	}
	if err := r.cache.DeleteFrameMetadata(ctx, instanceID); err != nil {
		r.logger.Warn("Frame metadata cache invalidation failed", zap.String("instance_id", instanceID), zap.Error(err))
	}

	r.logger.Info("Instance deleted", zap.String("instance_id", instanceID))
	return nil
}

// Get returns an instance or NOT_FOUND
func (r *InstanceRegistry) Get(ctx context.Context, instanceID string) (*models.Instance, error) {
	inst, err := r.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	if inst == nil {
		return nil, errors.Newf(errors.ErrNotFound, "Instance '%s' not found", instanceID)
	}
	return inst, nil
}

// List returns instances, optionally of one backend type
func (r *InstanceRegistry) List(ctx context.Context, backendTypeID string) ([]*models.Instance, error) {
	list, err := r.repo.ListInstances(ctx, backendTypeID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return list, nil
}

// IssueToken mints an instance access token for the backend to call back with
func (r *InstanceRegistry) IssueToken(ctx context.Context, instanceID string) (*models.InstanceToken, error) {
	if _, err := r.Get(ctx, instanceID); err != nil {
		return nil, err
	}
	token, err := r.tokens.Issue(instanceID, auth.KindInstanceAccess, 0, "")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return &models.InstanceToken{
		InstanceID:  instanceID,
		AccessToken: token,
		ExpiresIn:   r.tokens.ExpiresIn(auth.KindInstanceAccess),
	}, nil
}

// Backend returns the instance with a client for its backend
func (r *InstanceRegistry) Backend(ctx context.Context, instanceID string) (*models.Instance, backend.Client, error) {
	inst, bt, err := r.withType(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	return inst, r.backends.ForType(bt), nil
}

// Stats summarizes registry contents
func (r *InstanceRegistry) Stats(ctx context.Context) (*models.SystemStats, error) {
	s, err := r.repo.Stats(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternalServer)
	}
	return s, nil
}

func (r *InstanceRegistry) withType(ctx context.Context, instanceID string) (*models.Instance, *models.BackendType, error) {
	inst, err := r.Get(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst.BackendTypeID == "" {
		return nil, nil, errors.New(errors.ErrInvalidRequest, "Instance has no backend type configured")
	}
	bt, err := r.GetType(ctx, inst.BackendTypeID)
	if err != nil {
		return nil, nil, err
	}
	return inst, bt, nil
}

func (r *InstanceRegistry) instanceError(instanceID string, err error) error {
	if stderrors.Is(err, database.ErrNotFound) {
		return errors.Newf(errors.ErrNotFound, "Instance '%s' not found", instanceID)
	}
	r.logger.Error("Instance update failed", zap.String("instance_id", instanceID), zap.Error(err))
	return errors.Wrap(err, errors.ErrInternalServer)
}

// resolveDisplay picks each dimension from the instance, then the backend
// type default, then the fallback panel.
func resolveDisplay(inst, typeDefault *models.DisplayConfig) models.DisplayConfig {
	out := models.DisplayConfig{Width: fallbackWidth, Height: fallbackHeight, BitDepth: fallbackBitDepth}
	for _, src := range []*models.DisplayConfig{typeDefault, inst} {
		if src == nil {
			continue
		}
		if src.Width > 0 {
			out.Width = src.Width
		}
		if src.Height > 0 {
			out.Height = src.Height
		}
		if src.BitDepth > 0 {
			out.BitDepth = src.BitDepth
		}
	}
	return out
}

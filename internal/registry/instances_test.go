package registry_test

import (
	"context"
	"testing"
	"time"

	"screen-service/internal/auth"
	"screen-service/internal/cache"
	"screen-service/internal/config"
	"screen-service/internal/database"
	"screen-service/internal/mocks"
	"screen-service/internal/models"
	"screen-service/internal/registry"
	"screen-service/internal/testutil"
	"screen-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type instanceFixture struct {
	reg     *registry.InstanceRegistry
	repo    *database.MemoryRepository
	backend *mocks.MockBackendClient
	tokens  *auth.TokenService
}

func newInstanceRegistry(t *testing.T, c cache.Cache) *instanceFixture {
	t.Helper()
	if c == nil {
		c = cache.Noop{}
	}
	f := &instanceFixture{
		repo:    database.NewMemoryRepository(),
		backend: &mocks.MockBackendClient{},
		tokens:  testutil.NewTokenService(t),
	}
	f.reg = registry.NewInstanceRegistry(f.repo, c, &mocks.MockFactory{Client: f.backend}, f.tokens, time.Minute, zap.NewNop())
	return f
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func (f *instanceFixture) createType(t *testing.T, typeID string) *models.BackendType {
	t.Helper()
	bt, err := f.reg.CreateType(context.Background(), models.BackendTypeCreate{
		TypeID:          typeID,
		Name:            "Chess",
		BaseURL:         "http://chess.local",
		DefaultWidth:    intPtr(1200),
		DefaultHeight:   intPtr(825),
		DefaultBitDepth: intPtr(4),
	})
	require.NoError(t, err)
	return bt
}

func (f *instanceFixture) createInstance(t *testing.T, typeID, name string) *models.Instance {
	t.Helper()
	inst, err := f.reg.Create(context.Background(), models.InstanceCreate{
		Name:           name,
		BackendTypeID:  typeID,
		AutoInitialize: boolPtr(false),
	})
	require.NoError(t, err)
	return inst
}

func TestCreateInstance_ResolvesDisplay(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")

	inst, err := f.reg.Create(ctx, models.InstanceCreate{
		Name:           "Lobby board",
		BackendTypeID:  "chess",
		DisplayWidth:   intPtr(800),
		AutoInitialize: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Regexp(t, `^inst_[0-9a-f]{12}$`, inst.InstanceID)
	assert.Equal(t, "chess", inst.Type)
	assert.NotEmpty(t, inst.AccessToken)
	assert.False(t, inst.Initialized)
	assert.False(t, inst.Ready)
	assert.Equal(t, &models.DisplayConfig{Width: 800, Height: 825, BitDepth: 4}, inst.Display)
}

func TestCreateInstance_TypeChecks(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()

	_, err := f.reg.Create(ctx, models.InstanceCreate{Name: "x", BackendTypeID: "missing"})
	assert.ErrorIs(t, err, errors.ErrNotFound)

	f.createType(t, "chess")
	_, err = f.reg.UpdateType(ctx, "chess", models.BackendTypeUpdate{IsActive: boolPtr(false)})
	require.NoError(t, err)

	_, err = f.reg.Create(ctx, models.InstanceCreate{Name: "x", BackendTypeID: "chess"})
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)
}

func TestCreateInstance_AutoInitialize(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")

	var token string
	f.backend.On("Init", mock.Anything, mock.AnythingOfType("string"), models.DisplayConfig{Width: 1200, Height: 825, BitDepth: 4}, mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { token = args.String(3) }).
		Return(&models.BackendInitResponse{Status: "initialized"}, nil).Once()

	inst, err := f.reg.Create(ctx, models.InstanceCreate{Name: "Board", BackendTypeID: "chess"})
	require.NoError(t, err)
	assert.True(t, inst.Initialized)
	assert.True(t, inst.Ready)
	assert.NotNil(t, inst.InitializedAt)

	claims, err := f.tokens.Verify(token, auth.KindInstanceAccess)
	require.NoError(t, err)
	assert.Equal(t, inst.InstanceID, claims.Subject)
	f.backend.AssertExpectations(t)
}

func TestCreateInstance_InitFailureLeavesPending(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	f.createType(t, "chess")
	f.backend.On("Init", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrBackendUnavailable, "Connection error"))

	inst, err := f.reg.Create(context.Background(), models.InstanceCreate{Name: "Board", BackendTypeID: "chess"})
	require.NoError(t, err)
	assert.False(t, inst.Initialized)
}

func TestInitialize_PersistsNegotiatedDisplay(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")

	f.backend.On("Init", mock.Anything, inst.InstanceID, mock.Anything, mock.Anything).Return(&models.BackendInitResponse{
		Status:             "initialized",
		NeedsConfiguration: true,
		ConfigurationURL:   "https://chess.local/setup",
		Display:            &models.DisplayConfig{Width: 640, Height: 384, BitDepth: 2},
	}, nil)

	got, err := f.reg.Initialize(ctx, inst.InstanceID)
	require.NoError(t, err)
	assert.True(t, got.Initialized)
	assert.True(t, got.NeedsConfiguration)
	assert.False(t, got.Ready)
	assert.Equal(t, "https://chess.local/setup", got.ConfigurationURL)
	assert.Equal(t, &models.DisplayConfig{Width: 640, Height: 384, BitDepth: 2}, got.Display)
}

func TestInitialize_SurfacesBackendError(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")

	f.backend.On("Init", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrBackendProtocol, "backend returned status 500"))

	_, err := f.reg.Initialize(context.Background(), inst.InstanceID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendProtocol)
	assert.Equal(t, "Failed to initialize with backend: backend returned status 500", errors.As(err).Message)
}

func TestRefreshStatus(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")

	f.backend.On("Status", mock.Anything, inst.InstanceID).Return(&models.BackendStatus{
		InstanceID:         inst.InstanceID,
		Ready:              false,
		NeedsConfiguration: true,
		ConfigurationURL:   "https://chess.local/setup",
	}, nil)

	got, err := f.reg.RefreshStatus(context.Background(), inst.InstanceID)
	require.NoError(t, err)
	assert.True(t, got.NeedsConfiguration)
	assert.Equal(t, "https://chess.local/setup", got.ConfigurationURL)
}

func TestDeleteInstance_Cascades(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")
	_, err := f.repo.UpdateInstance(ctx, inst.InstanceID, func(i *models.Instance) error {
		i.Initialized = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.repo.CreateDevice(ctx, &models.Device{DeviceID: "dev_1", HardwareID: "hw"}))
	_, err = f.reg.Assign(ctx, "dev_1", inst.InstanceID, nil)
	require.NoError(t, err)

	// Backend failures do not block deletion.
	f.backend.On("Delete", mock.Anything, inst.InstanceID).Return(errors.New(errors.ErrBackendUnavailable, "Connection error"))

	require.NoError(t, f.reg.Delete(ctx, inst.InstanceID))
	f.backend.AssertCalled(t, "Delete", mock.Anything, inst.InstanceID)

	d, err := f.repo.GetDevice(ctx, "dev_1")
	require.NoError(t, err)
	assert.Empty(t, d.ActiveInstanceID)
	assigned, err := f.reg.Assigned(ctx, "dev_1")
	require.NoError(t, err)
	assert.Empty(t, assigned)

	assert.ErrorIs(t, f.reg.Delete(ctx, inst.InstanceID), errors.ErrNotFound)
}

func TestDeleteType_Guard(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")

	err := f.reg.DeleteType(ctx, "chess")
	assert.ErrorIs(t, err, errors.ErrConflict)

	bt, err := f.reg.GetType(ctx, "chess")
	require.NoError(t, err)
	assert.Equal(t, "chess", bt.TypeID)
	got, err := f.reg.Get(ctx, inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "chess", got.BackendTypeID)

	require.NoError(t, f.repo.DeleteInstance(ctx, inst.InstanceID))
	require.NoError(t, f.reg.DeleteType(ctx, "chess"))
	_, err = f.reg.GetType(ctx, "chess")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestGetType_CachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newInstanceRegistry(t, cache.NewRedisCacheFromClient(client, zap.NewNop()))
	ctx := context.Background()

	bt, err := f.reg.CreateType(ctx, models.BackendTypeCreate{
		TypeID:    "weather",
		Name:      "Weather",
		BaseURL:   "http://weather.local",
		AuthToken: "s3cret",
	})
	require.NoError(t, err)

	_, err = f.reg.GetType(ctx, "weather")
	require.NoError(t, err)
	assert.True(t, mr.Exists("backend_type:weather"))

	// Served from the cache, auth token included.
	cached, err := f.reg.GetType(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, bt.AuthToken, cached.AuthToken)

	_, err = f.reg.UpdateType(ctx, "weather", models.BackendTypeUpdate{BaseURL: strPtr("http://weather2.local")})
	require.NoError(t, err)
	assert.False(t, mr.Exists("backend_type:weather"))

	fresh, err := f.reg.GetType(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, "http://weather2.local", fresh.BaseURL)
}

func strPtr(s string) *string { return &s }

func TestSeedTypes_Upserts(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")

	seeds := []config.BackendSeed{
		{TypeID: "chess", Name: "Chess v2", BaseURL: "http://chess2.local"},
		{TypeID: "clock", Name: "Clock", BaseURL: "http://clock.local", Inactive: true},
	}
	require.NoError(t, f.reg.SeedTypes(ctx, seeds))

	chess, err := f.reg.GetType(ctx, "chess")
	require.NoError(t, err)
	assert.Equal(t, "Chess v2", chess.Name)
	assert.Equal(t, "http://chess2.local", chess.BaseURL)

	clock, err := f.reg.GetType(ctx, "clock")
	require.NoError(t, err)
	assert.False(t, clock.IsActive)

	active, err := f.reg.ListTypes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAssignments(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	ctx := context.Background()
	f.createType(t, "chess")
	a := f.createInstance(t, "chess", "A")
	b := f.createInstance(t, "chess", "B")
	require.NoError(t, f.repo.CreateDevice(ctx, &models.Device{DeviceID: "dev_1", HardwareID: "hw"}))

	added, err := f.reg.Assign(ctx, "dev_1", a.InstanceID, nil)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.reg.Assign(ctx, "dev_1", b.InstanceID, nil)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.reg.Assign(ctx, "dev_1", a.InstanceID, nil)
	require.NoError(t, err)
	assert.False(t, added)

	d, _ := f.repo.GetDevice(ctx, "dev_1")
	assert.Equal(t, a.InstanceID, d.ActiveInstanceID)

	ids, err := f.reg.Assigned(ctx, "dev_1")
	require.NoError(t, err)
	assert.Equal(t, []string{a.InstanceID, b.InstanceID}, ids)

	_, err = f.reg.SetActive(ctx, "dev_1", "inst_unassigned")
	assert.ErrorIs(t, err, errors.ErrInvalidRequest)

	require.NoError(t, f.reg.Unassign(ctx, "dev_1", a.InstanceID))
	d, _ = f.repo.GetDevice(ctx, "dev_1")
	assert.Equal(t, b.InstanceID, d.ActiveInstanceID)

	assert.ErrorIs(t, f.reg.Unassign(ctx, "dev_1", a.InstanceID), errors.ErrNotFound)

	require.NoError(t, f.reg.Unassign(ctx, "dev_1", b.InstanceID))
	d, _ = f.repo.GetDevice(ctx, "dev_1")
	assert.Empty(t, d.ActiveInstanceID)

	_, err = f.reg.Assign(ctx, "dev_missing", b.InstanceID, nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestIssueToken(t *testing.T) {
	f := newInstanceRegistry(t, nil)
	f.createType(t, "chess")
	inst := f.createInstance(t, "chess", "Board")

	tok, err := f.reg.IssueToken(context.Background(), inst.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, int64(365*24*3600), tok.ExpiresIn)

	claims, err := f.tokens.Verify(tok.AccessToken, auth.KindInstanceAccess)
	require.NoError(t, err)
	assert.Equal(t, inst.InstanceID, claims.Subject)

	_, err = f.reg.IssueToken(context.Background(), "inst_missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

package models

import "time"

// AuthStatus is the authorization state of a device
type AuthStatus string

const (
	AuthPending    AuthStatus = "pending"
	AuthAuthorized AuthStatus = "authorized"
	AuthRejected   AuthStatus = "rejected"
	AuthRevoked    AuthStatus = "revoked"
)

// Button identifies a physical key on a device
type Button string

const (
	BtnOne   Button = "BTN_1"
	BtnTwo   Button = "BTN_2"
	BtnThree Button = "BTN_3"
	BtnFour  Button = "BTN_4"
	BtnFive  Button = "BTN_5"
	BtnSix   Button = "BTN_6"
	BtnSeven Button = "BTN_7"
	BtnEight Button = "BTN_8"
	BtnEnter Button = "ENTER"
	BtnEsc   Button = "ESC"
	// Context buttons cycle the active instance instead of being forwarded.
	BtnContextLeft  Button = "HL_LEFT"
	BtnContextRight Button = "HL_RIGHT"
)

// EventType is the kind of button interaction
type EventType string

const (
	EventPress     EventType = "PRESS"
	EventLongPress EventType = "LONG_PRESS"
	EventRelease   EventType = "RELEASE"
)

// DeviceAction tells a polling device what to do next
type DeviceAction string

const (
	ActionNoop       DeviceAction = "NOOP"
	ActionFetchFrame DeviceAction = "FETCH_FRAME"
	ActionSleep      DeviceAction = "SLEEP"
)

// DisplayConfig describes a panel's capabilities
type DisplayConfig struct {
	Width          int  `json:"width" validate:"gt=0,lte=10000"`
	Height         int  `json:"height" validate:"gt=0,lte=10000"`
	BitDepth       int  `json:"bit_depth" validate:"gt=0,lte=32"`
	PartialRefresh bool `json:"partial_refresh"`
}

// Device represents a physical display unit
type Device struct {
	DeviceID          string        `json:"device_id" db:"device_id"`
	HardwareID        string        `json:"hardware_id" db:"hardware_id"`
	SecretHash        string        `json:"-" db:"device_secret_hash"`
	FirmwareVersion   string        `json:"firmware_version" db:"firmware_version"`
	AuthStatus        AuthStatus    `json:"auth_status" db:"auth_status"`
	AuthorizedAt      *time.Time    `json:"authorized_at,omitempty" db:"authorized_at"`
	AuthorizedBy      string        `json:"authorized_by,omitempty" db:"authorized_by"`
	CurrentRefreshJTI string        `json:"-" db:"current_refresh_jti"`
	Display           DisplayConfig `json:"display"`
	CurrentFrameID    string        `json:"current_frame_id,omitempty" db:"current_frame_id"`
	ActiveInstanceID  string        `json:"active_instance_id,omitempty" db:"active_instance_id"`
	LastSeenAt        *time.Time    `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Instance is a logical content session hosted by one backend
type Instance struct {
	InstanceID         string         `json:"instance_id" db:"instance_id"`
	Name               string         `json:"name" db:"name"`
	Type               string         `json:"type" db:"type"`
	BackendTypeID      string         `json:"backend_type_id,omitempty" db:"backend_type_id"`
	AccessToken        string         `json:"-" db:"access_token"`
	Initialized        bool           `json:"initialized" db:"initialized"`
	Ready              bool           `json:"ready" db:"ready"`
	NeedsConfiguration bool           `json:"needs_configuration" db:"needs_configuration"`
	ConfigurationURL   string         `json:"configuration_url,omitempty" db:"configuration_url"`
	Display            *DisplayConfig `json:"display,omitempty"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	InitializedAt      *time.Time     `json:"initialized_at,omitempty" db:"initialized_at"`
}

// Frame is an immutable rendered image
type Frame struct {
	FrameID    string    `json:"frame_id" db:"frame_id"`
	InstanceID string    `json:"instance_id,omitempty" db:"instance_id"`
	Data       []byte    `json:"-" db:"data"`
	Hash       string    `json:"hash" db:"hash"`
	Width      int       `json:"width,omitempty" db:"width"`
	Height     int       `json:"height,omitempty" db:"height"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Assignment links a device to one of the instances it can cycle through
type Assignment struct {
	DeviceID   string    `json:"device_id" db:"device_id"`
	InstanceID string    `json:"instance_id" db:"instance_id"`
	Position   int       `json:"position" db:"position"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// BackendType is a registered backend integration
type BackendType struct {
	TypeID         string         `json:"type_id" db:"type_id"`
	Name           string         `json:"name" db:"name"`
	Description    string         `json:"description,omitempty" db:"description"`
	BaseURL        string         `json:"base_url" db:"base_url"`
	AuthToken      string         `json:"-" db:"auth_token"`
	DefaultDisplay *DisplayConfig `json:"default_display,omitempty"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// InputEvent is a button interaction reported by a device
type InputEvent struct {
	Button    Button    `json:"button" validate:"required,oneof=BTN_1 BTN_2 BTN_3 BTN_4 BTN_5 BTN_6 BTN_7 BTN_8 ENTER ESC HL_LEFT HL_RIGHT"`
	EventType EventType `json:"event_type" validate:"required,oneof=PRESS LONG_PRESS RELEASE"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// InputRecord is the audit row written for every device input
type InputRecord struct {
	ID             int64     `json:"id" db:"id"`
	DeviceID       string    `json:"device_id" db:"device_id"`
	InstanceID     string    `json:"instance_id,omitempty" db:"instance_id"`
	Button         Button    `json:"button" db:"button"`
	EventType      EventType `json:"event_type" db:"event_type"`
	EventTimestamp time.Time `json:"event_timestamp" db:"event_timestamp"`
	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
}

// DeviceRegistration is the body of POST /auth/devices/register
type DeviceRegistration struct {
	HardwareID      string        `json:"hardware_id" validate:"required,max=255"`
	FirmwareVersion string        `json:"firmware_version" validate:"required,max=64"`
	Display         DisplayConfig `json:"display"`
}

// DeviceRegistrationResponse carries the one-time device secret
type DeviceRegistrationResponse struct {
	DeviceID     string     `json:"device_id"`
	DeviceSecret string     `json:"device_secret"`
	AuthStatus   AuthStatus `json:"auth_status"`
	Message      string     `json:"message"`
}

// DeviceTokenRequest is the body of POST /auth/devices/token
type DeviceTokenRequest struct {
	HardwareID      string         `json:"hardware_id" validate:"required,max=255"`
	DeviceSecret    string         `json:"device_secret"`
	FirmwareVersion string         `json:"firmware_version" validate:"max=64"`
	Display         *DisplayConfig `json:"display,omitempty"`
}

// DeviceTokenResponse is returned by POST /auth/devices/token. The secret is
// only set when the call auto-registered an unknown device.
type DeviceTokenResponse struct {
	DeviceID              string     `json:"device_id"`
	DeviceSecret          string     `json:"device_secret,omitempty"`
	RefreshToken          string     `json:"refresh_token"`
	RefreshTokenExpiresIn int64      `json:"refresh_token_expires_in"`
	AuthStatus            AuthStatus `json:"auth_status"`
	Message               string     `json:"message,omitempty"`
}

// AccessTokenResponse is returned by POST /auth/devices/refresh
type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshTokenResponse is returned by POST /auth/devices/renew-refresh
type RefreshTokenResponse struct {
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// DeviceAuthStatus is returned by GET /auth/devices/status
type DeviceAuthStatus struct {
	DeviceID     string     `json:"device_id"`
	AuthStatus   AuthStatus `json:"auth_status"`
	AuthorizedAt *time.Time `json:"authorized_at,omitempty"`
}

// DeviceState is the answer to a device poll
type DeviceState struct {
	Action           DeviceAction `json:"action"`
	FrameID          string       `json:"frame_id,omitempty"`
	ActiveInstanceID string       `json:"active_instance_id,omitempty"`
	PollAfterMs      int64        `json:"poll_after_ms"`
}

// FrameCreateResponse is returned after a backend submits a frame
type FrameCreateResponse struct {
	FrameID   string    `json:"frame_id"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// FrameSyncResult compares local and backend frame state for an instance
type FrameSyncResult struct {
	InstanceID       string `json:"instance_id"`
	InstanceName     string `json:"instance_name"`
	BackendHasFrame  bool   `json:"backend_has_frame"`
	BackendFrameHash string `json:"backend_frame_hash,omitempty"`
	LocalHasFrame    bool   `json:"local_has_frame"`
	LocalFrameHash   string `json:"local_frame_hash,omitempty"`
	InSync           bool   `json:"in_sync"`
	ActionTaken      string `json:"action_taken,omitempty"`
	Error            string `json:"error,omitempty"`
}

// BackendTypeCreate is the admin request to register a backend type
type BackendTypeCreate struct {
	TypeID          string `json:"type_id" validate:"required,max=64"`
	Name            string `json:"name" validate:"required,max=255"`
	Description     string `json:"description"`
	BaseURL         string `json:"base_url" validate:"required,url"`
	AuthToken       string `json:"auth_token"`
	DefaultWidth    *int   `json:"default_width" validate:"omitempty,gt=0"`
	DefaultHeight   *int   `json:"default_height" validate:"omitempty,gt=0"`
	DefaultBitDepth *int   `json:"default_bit_depth" validate:"omitempty,gt=0"`
}

// BackendTypeUpdate is a partial update; nil fields are left untouched
type BackendTypeUpdate struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	BaseURL         *string `json:"base_url" validate:"omitempty,url"`
	AuthToken       *string `json:"auth_token"`
	DefaultWidth    *int    `json:"default_width" validate:"omitempty,gt=0"`
	DefaultHeight   *int    `json:"default_height" validate:"omitempty,gt=0"`
	DefaultBitDepth *int    `json:"default_bit_depth" validate:"omitempty,gt=0"`
	IsActive        *bool   `json:"is_active"`
}

// InstanceCreate is the admin request to create an instance
type InstanceCreate struct {
	Name            string `json:"name" validate:"required,max=255"`
	BackendTypeID   string `json:"backend_type_id" validate:"required"`
	DisplayWidth    *int   `json:"display_width" validate:"omitempty,gt=0"`
	DisplayHeight   *int   `json:"display_height" validate:"omitempty,gt=0"`
	DisplayBitDepth *int   `json:"display_bit_depth" validate:"omitempty,gt=0"`
	AutoInitialize  *bool  `json:"auto_initialize"`
}

// InstanceUpdate is a partial update of an instance
type InstanceUpdate struct {
	Name            *string `json:"name" validate:"omitempty,max=255"`
	DisplayWidth    *int    `json:"display_width" validate:"omitempty,gt=0"`
	DisplayHeight   *int    `json:"display_height" validate:"omitempty,gt=0"`
	DisplayBitDepth *int    `json:"display_bit_depth" validate:"omitempty,gt=0"`
}

// AssignInstanceRequest assigns an instance to a device
type AssignInstanceRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
	Position   *int   `json:"position" validate:"omitempty,gte=0"`
}

// SetActiveInstanceRequest selects the instance a device shows
type SetActiveInstanceRequest struct {
	InstanceID string `json:"instance_id" validate:"required"`
}

// DeviceWithInstances is the admin view of a device
type DeviceWithInstances struct {
	*Device
	AssignedInstances []string `json:"assigned_instances"`
}

// InstanceToken is a freshly minted instance access token
type InstanceToken struct {
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// SystemStats summarizes registry contents
type SystemStats struct {
	Devices               int `json:"devices"`
	PendingDevices        int `json:"pending_devices"`
	Instances             int `json:"instances"`
	ReadyInstances        int `json:"ready_instances"`
	PendingInitialization int `json:"pending_initialization"`
	NeedsConfiguration    int `json:"needs_configuration"`
	BackendTypes          int `json:"backend_types"`
}

// Backend wire types exchanged with instance backends

// BackendCallbacks are the URLs a backend uses to reach this service
type BackendCallbacks struct {
	Frames string `json:"frames"`
	Inputs string `json:"inputs"`
	Notify string `json:"notify"`
}

// BackendInitRequest is sent to POST /instances/init
type BackendInitRequest struct {
	InstanceID  string           `json:"instance_id"`
	Callbacks   BackendCallbacks `json:"callbacks"`
	Display     DisplayConfig    `json:"display"`
	AccessToken string           `json:"access_token,omitempty"`
}

// BackendInitResponse must carry status "initialized"
type BackendInitResponse struct {
	Status             string         `json:"status"`
	NeedsConfiguration bool           `json:"needs_configuration"`
	ConfigurationURL   string         `json:"configuration_url,omitempty"`
	Display            *DisplayConfig `json:"display,omitempty"`
}

// BackendStatus is returned by GET /instances/{id}/status
type BackendStatus struct {
	InstanceID         string `json:"instance_id"`
	Ready              bool   `json:"ready"`
	NeedsConfiguration bool   `json:"needs_configuration"`
	ConfigurationURL   string `json:"configuration_url,omitempty"`
	ActiveScreen       string `json:"active_screen,omitempty"`
}

// BackendFrameMetadata is returned by GET /instances/{id}/frame
type BackendFrameMetadata struct {
	InstanceID string     `json:"instance_id"`
	HasFrame   bool       `json:"has_frame"`
	FrameID    string     `json:"frame_id,omitempty"`
	FrameHash  string     `json:"frame_hash,omitempty"`
	ScreenType string     `json:"screen_type,omitempty"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// BackendFrameSendResponse status is one of sent, no_frame or scheduled
type BackendFrameSendResponse struct {
	Status  string `json:"status"`
	FrameID string `json:"frame_id,omitempty"`
}

package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// ActionFunc handles one named action. params is the raw JSON request body
// (may be empty). The returned value is encoded as the success payload.
type ActionFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Action is one entry in a plugin's command table.
type Action struct {
	Name    string
	Handler ActionFunc
}

// ActionError is a user-facing action failure. It is rendered as
// {"message": ..., "success": false} rather than as a server error.
type ActionError struct {
	Message string
	Err     error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ActionError) Unwrap() error { return e.Err }

// Fail returns an ActionError carrying msg and the optional cause.
func Fail(msg string, cause error) error {
	return &ActionError{Message: msg, Err: cause}
}

// Event is a message published on the event bus.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// EventHandler receives published events.
type EventHandler func(ctx context.Context, event Event)

// EventBus is the in-process publish/subscribe contract shared by plugins.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}

// Plugin defines the interface that all geoscout modules must implement.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "geolocate").
	Name() string

	// Version returns the plugin's semantic version.
	Version() string

	// Init initializes the plugin with configuration and logger.
	Init(config *viper.Viper, logger *zap.Logger) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop() error

	// Routes returns the HTTP routes this plugin exposes.
	Routes() []Route

	// Actions returns the plugin's command table.
	Actions() []Action
}

package geolocate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/geoscout/internal/capture"
	"github.com/HerbHall/geoscout/internal/geolocation"
	"github.com/HerbHall/geoscout/internal/history"
	"github.com/HerbHall/geoscout/internal/jobs"
	"github.com/HerbHall/geoscout/internal/plugin"
	"github.com/HerbHall/geoscout/internal/services"
)

// User-facing action messages.
const (
	stoppedMessage    = "geolocate stopped."
	stopFailedMessage = "Error stopping."
	outputMissing     = "Could not find scan output."
	alreadyRunning    = "A geolocate job is already running."
	noCommand         = "No command given."
	badParams         = "Invalid request parameters."
	deleteFailed      = "Could not delete scan output."
	clearFailed       = "Could not clear history."
	historyFailed     = "Could not read history."
	interfacesFailed  = "Could not list wireless interfaces."
	noAPIKey          = "An API key is required."
	noNetworks        = "No networks to geolocate."
	captureFailed     = "Capture failed."
	noKeyStorage      = "API key storage is not available."
	keyStoreFailed    = "Could not store the API key."
)

// APIKeySetting is the settings key of the stored provider API key.
const APIKeySetting = "geolocation.api_key"

// Actions returns the module's command table.
func (m *Module) Actions() []plugin.Action {
	return []plugin.Action{
		{Name: "start", Handler: m.actionStart},
		{Name: "stop", Handler: m.actionStop},
		{Name: "status", Handler: m.actionStatus},
		{Name: "load_history", Handler: m.actionLoadHistory},
		{Name: "load_output", Handler: m.actionLoadOutput},
		{Name: "delete_result", Handler: m.actionDeleteResult},
		{Name: "clear_history", Handler: m.actionClearHistory},
		{Name: "startup", Handler: m.actionStartup},
		{Name: "getGeolocation", Handler: m.actionGetGeolocation},
		{Name: "set_api_key", Handler: m.actionSetAPIKey},
	}
}

// decode unmarshals params into dst. Empty params leave dst untouched.
func decode(params json.RawMessage, dst any) error {
	if len(strings.TrimSpace(string(params))) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return plugin.Fail(badParams, err)
	}
	return nil
}

// StartRequest are the parameters of the start action.
type StartRequest struct {
	Command    string `json:"command"`
	InputIface string `json:"input_iface"`
	// Async returns as soon as the capture is running.
	Async bool `json:"async"`
}

// StartResponse is returned by start. Results is set for synchronous runs.
type StartResponse struct {
	Results    []capture.Observation `json:"results"`
	JobID      string                `json:"job_id"`
	OutputFile string                `json:"output_file"`
}

func (m *Module) actionStart(ctx context.Context, params json.RawMessage) (any, error) {
	var req StartRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	args := strings.Fields(req.Command)
	if len(args) == 0 {
		return nil, plugin.Fail(noCommand, capture.ErrConfig)
	}

	filename := m.history.NewFilename()
	path, err := m.history.Path(filename)
	if err != nil {
		return nil, plugin.Fail(historyFailed, err)
	}
	spec := capture.Spec{Args: args, OutputFile: path, InputInterface: req.InputIface}

	if req.Async {
		job, err := m.jobs.StartAsync(ctx, spec)
		if err != nil {
			return nil, startError(job, err)
		}
		return StartResponse{Results: []capture.Observation{}, JobID: job.ID(), OutputFile: filename}, nil
	}

	job, obs, err := m.jobs.Start(ctx, spec)
	if err != nil {
		return nil, startError(job, err)
	}
	if obs == nil {
		obs = []capture.Observation{}
	}
	return StartResponse{Results: obs, JobID: job.ID(), OutputFile: filename}, nil
}

func startError(job *capture.Job, err error) error {
	if errors.Is(err, jobs.ErrAlreadyRunning) {
		return plugin.Fail(alreadyRunning, err)
	}
	if job != nil && job.Message() != "" {
		return plugin.Fail(job.Message(), err)
	}
	return plugin.Fail(captureFailed, err)
}

func (m *Module) actionStop(ctx context.Context, _ json.RawMessage) (any, error) {
	err := m.jobs.Stop(ctx)
	if err != nil && !errors.Is(err, jobs.ErrNothingRunning) {
		m.logger.Error("stop geolocate job", zap.Error(err))
		return nil, plugin.Fail(stopFailedMessage, err)
	}
	return stoppedMessage, nil
}

func (m *Module) actionStatus(context.Context, json.RawMessage) (any, error) {
	return m.jobs.Status(), nil
}

func (m *Module) actionLoadHistory(context.Context, json.RawMessage) (any, error) {
	names, err := m.history.Names()
	if err != nil {
		return nil, plugin.Fail(historyFailed, err)
	}
	return names, nil
}

// OutputRequest names one history entry.
type OutputRequest struct {
	OutputFile string `json:"output_file"`
}

func (m *Module) actionLoadOutput(_ context.Context, params json.RawMessage) (any, error) {
	var req OutputRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	data, err := m.history.Load(req.OutputFile)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) || errors.Is(err, history.ErrInvalidName) {
			return nil, plugin.Fail(outputMissing, err)
		}
		return nil, plugin.Fail(historyFailed, err)
	}
	return string(data), nil
}

func (m *Module) actionDeleteResult(_ context.Context, params json.RawMessage) (any, error) {
	var req OutputRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if err := m.history.Delete(req.OutputFile); err != nil {
		return nil, plugin.Fail(deleteFailed, err)
	}
	return true, nil
}

func (m *Module) actionClearHistory(context.Context, json.RawMessage) (any, error) {
	if _, err := m.history.Clear(); err != nil {
		return nil, plugin.Fail(clearFailed, err)
	}
	return true, nil
}

// StartupResponse lists the device's wireless interfaces.
type StartupResponse struct {
	Interfaces []string `json:"interfaces"`
}

func (m *Module) actionStartup(context.Context, json.RawMessage) (any, error) {
	ifaces, err := m.lister.Interfaces()
	if err != nil {
		return nil, plugin.Fail(interfacesFailed, err)
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return StartupResponse{Interfaces: names}, nil
}

// GeolocationRequest are the parameters of getGeolocation. Without
// networks the observations of the last capture are submitted; without a
// key the stored one is used.
type GeolocationRequest struct {
	Networks []capture.Observation `json:"networks"`
	APIKey   string                `json:"api_key"`
}

func (m *Module) actionGetGeolocation(ctx context.Context, params json.RawMessage) (any, error) {
	var req GeolocationRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if req.APIKey == "" {
		req.APIKey = m.storedAPIKey(ctx)
	}
	if req.APIKey == "" {
		return nil, plugin.Fail(noAPIKey, nil)
	}
	networks := req.Networks
	if len(networks) == 0 {
		networks = m.jobs.LastObservations()
		if len(networks) == 0 {
			return nil, plugin.Fail(noNetworks, nil)
		}
	}
	return m.Locate(ctx, networks, req.APIKey), nil
}

// APIKeyRequest sets or, when empty, clears the stored API key.
type APIKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (m *Module) actionSetAPIKey(ctx context.Context, params json.RawMessage) (any, error) {
	var req APIKeyRequest
	if err := decode(params, &req); err != nil {
		return nil, err
	}
	if m.settings == nil {
		return nil, plugin.Fail(noKeyStorage, nil)
	}
	key := strings.TrimSpace(req.APIKey)
	var err error
	if key == "" {
		err = m.settings.Delete(ctx, APIKeySetting)
		if errors.Is(err, services.ErrNotFound) {
			err = nil
		}
	} else {
		err = m.settings.Set(ctx, APIKeySetting, key)
	}
	if err != nil {
		return nil, plugin.Fail(keyStoreFailed, err)
	}
	return true, nil
}

func (m *Module) storedAPIKey(ctx context.Context) string {
	if m.settings == nil {
		return ""
	}
	s, err := m.settings.Get(ctx, APIKeySetting)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			m.logger.Warn("read stored API key", zap.Error(err))
		}
		return ""
	}
	return s.Value
}

// Locate submits networks to the provider, records the outcome and
// publishes resolved locations.
func (m *Module) Locate(ctx context.Context, networks []capture.Observation, apiKey string) geolocation.Result {
	res := m.geo.Submit(ctx, networks, apiKey)
	if m.metrics != nil {
		m.metrics.GeolocationRequest(res.Category.Label())
	}
	if !res.Success() {
		m.logger.Warn("geolocation not successful",
			zap.String("category", res.Category.Label()),
			zap.String("message", res.Message),
		)
		return res
	}
	m.logger.Info("geolocation resolved",
		zap.String("latitude", res.LatitudeString()),
		zap.String("longitude", res.LongitudeString()),
	)
	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicLocationResolved,
			Source:    Name,
			Timestamp: m.now(),
			Payload:   res,
		})
	}
	return res
}

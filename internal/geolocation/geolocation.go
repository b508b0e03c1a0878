// Package geolocation submits observed access points to a Wi-Fi geolocation
// provider and classifies the reply.
package geolocation

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/geoscout/internal/capture"
	"github.com/HerbHall/geoscout/internal/version"
)

// DefaultURL is the Google Geolocation API endpoint.
const DefaultURL = "https://www.googleapis.com/geolocation/v1/geolocate"

// Category classifies a provider reply. The empty category is success; the
// others carry the provider's error reason.
type Category string

const (
	CategoryNone                  Category = ""
	CategoryDailyLimitExceeded    Category = "dailyLimitExceeded"
	CategoryKeyInvalid            Category = "keyInvalid"
	CategoryUserRateLimitExceeded Category = "userRateLimitExceeded"
	CategoryNotFound              Category = "notFound"
	CategoryParseError            Category = "parseError"
)

var messages = map[Category]string{
	CategoryDailyLimitExceeded:    "Daily limit exceeded. The Program will try again shortly.",
	CategoryKeyInvalid:            "Invalid API Key. The Program will try again shortly.",
	CategoryUserRateLimitExceeded: "Exceeded the request per second per user limit configured by you",
	CategoryNotFound:              "Wifi Access Point not geolocated. The Program will try again shortly.",
	CategoryParseError:            "Request body is not valid JSON. The Program will try again shortly.",
}

// Message returns the user-facing text for c, or "" for success.
func (c Category) Message() string { return messages[c] }

// Label names c for metrics and logs.
func (c Category) Label() string {
	if c == CategoryNone {
		return "success"
	}
	return string(c)
}

// Result is a classified provider reply. Latitude and Longitude are only
// meaningful when Category is CategoryNone.
type Result struct {
	Category  Category `json:"category,omitempty"`
	Message   string   `json:"message,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy,omitempty"`
}

// Success reports whether the provider returned a location.
func (r Result) Success() bool { return r.Category == CategoryNone }

// LatitudeString renders the latitude with six decimals.
func (r Result) LatitudeString() string { return fmt.Sprintf("%.6f", r.Latitude) }

// LongitudeString renders the longitude with six decimals.
func (r Result) LongitudeString() string { return fmt.Sprintf("%.6f", r.Longitude) }

func failure(c Category) Result {
	return Result{Category: c, Message: c.Message()}
}

// TimestampLayout formats the header printed above a resolved location.
const TimestampLayout = "2006-01-02   15:04:05"

type request struct {
	WifiAccessPoints []capture.Observation `json:"wifiAccessPoints"`
}

type response struct {
	Location *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64        `json:"accuracy"`
	Error    *providerError `json:"error"`
}

type providerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Errors  []struct {
		Reason  string `json:"reason"`
		Domain  string `json:"domain"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Classify maps a raw provider reply to a Result. The first error reason
// decides the category; unknown reasons, a missing reason, a missing
// location and undecodable bodies are all CategoryParseError.
func Classify(body []byte) Result {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return failure(CategoryParseError)
	}
	if resp.Error != nil {
		if len(resp.Error.Errors) == 0 {
			return failure(CategoryParseError)
		}
		switch c := Category(resp.Error.Errors[0].Reason); c {
		case CategoryDailyLimitExceeded, CategoryKeyInvalid,
			CategoryUserRateLimitExceeded, CategoryNotFound:
			return failure(c)
		default:
			return failure(CategoryParseError)
		}
	}
	if resp.Location == nil {
		return failure(CategoryParseError)
	}
	return Result{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
	}
}

// Config controls the provider client.
type Config struct {
	URL                string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RatePerSecond      float64
	Burst              int
}

// Client talks to the geolocation provider.
type Client struct {
	http    *resty.Client
	url     string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client. Zero values fall back to DefaultURL, a 15s timeout
// and no rate limit.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept-Charset", "UTF-8").
		SetHeader("User-Agent", version.UserAgent()).
		SetLogger(logger.Sugar())
	if cfg.InsecureSkipVerify {
		//nolint:gosec // devices often lack a CA bundle or a sane clock
		httpClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &Client{
		http:    httpClient,
		url:     cfg.URL,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
}

// Submit posts networks to the provider and classifies the reply. It never
// returns an error: transport failures and cancellation surface as
// CategoryParseError and are logged.
func (c *Client) Submit(ctx context.Context, networks []capture.Observation, apiKey string) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("geolocation request not sent", zap.Error(err))
		return failure(CategoryParseError)
	}

	body := request{WifiAccessPoints: networks}
	if body.WifiAccessPoints == nil {
		body.WifiAccessPoints = []capture.Observation{}
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", apiKey).
		SetBody(body).
		Post(c.url)
	if err != nil {
		c.logger.Error("geolocation request failed", zap.Error(err))
		return failure(CategoryParseError)
	}

	result := Classify(resp.Body())
	c.logger.Debug("geolocation reply",
		zap.Int("status", resp.StatusCode()),
		zap.Int("networks", len(networks)),
		zap.String("category", result.Category.Label()),
	)
	return result
}

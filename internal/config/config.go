// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting. Zero values are replaced by defaults in Load.
type Config struct {
	APIURL    string `validate:"required,url"`
	APIToken  string
	ProjectID string
	JobID     string

	SAMURL       string        `validate:"required,url"`
	SAMTransport string        `validate:"oneof=http ws"`
	SAMTimeout   time.Duration `validate:"gte=0"`
	SAMRate      float64       `validate:"gt=0"`
	SAMBurst     int           `validate:"gte=1"`
	SAMModel     string        `validate:"oneof=sam_v1 sam_v2 sam_v3"`
	SAMDevice    string        `validate:"oneof=cuda cpu"`
	SAMPrecision string        `validate:"oneof=fp16 fp32"`

	ViewMinScale float64 `validate:"gt=0"`
	ViewMaxScale float64 `validate:"gtfield=ViewMinScale"`
	ViewZoomStep float64 `validate:"gt=0"`

	PrefetchRadius int `validate:"gte=0,lte=10"`
	PrefetchMaxDim int `validate:"gte=64"`

	LogLevel string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile  string
	AppEnv   string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIURL:         "http://localhost:8000/api/v1",
		SAMURL:         "http://localhost:8001",
		SAMTransport:   "http",
		SAMTimeout:     120 * time.Second,
		SAMRate:        4,
		SAMBurst:       2,
		SAMModel:       "sam_v2",
		SAMDevice:      "cuda",
		SAMPrecision:   "fp16",
		ViewMinScale:   0.1,
		ViewMaxScale:   10,
		ViewZoomStep:   0.25,
		PrefetchRadius: 2,
		PrefetchMaxDim: 2048,
		LogLevel:       "info",
		AppEnv:         "development",
	}
}

// Load reads an optional .env file, overlays environment variables on the
// defaults and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config using getenv for lookups.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	r := reader{getenv: getenv}

	r.str("ANNOTATOR_API_URL", &cfg.APIURL)
	r.str("ANNOTATOR_API_TOKEN", &cfg.APIToken)
	r.str("ANNOTATOR_PROJECT_ID", &cfg.ProjectID)
	r.str("ANNOTATOR_JOB_ID", &cfg.JobID)
	r.str("SAM_URL", &cfg.SAMURL)
	r.str("SAM_TRANSPORT", &cfg.SAMTransport)
	r.duration("SAM_TIMEOUT", &cfg.SAMTimeout)
	r.float("SAM_RATE", &cfg.SAMRate)
	r.int("SAM_BURST", &cfg.SAMBurst)
	r.str("SAM_MODEL", &cfg.SAMModel)
	r.str("SAM_DEVICE", &cfg.SAMDevice)
	r.str("SAM_PRECISION", &cfg.SAMPrecision)
	r.float("VIEW_MIN_SCALE", &cfg.ViewMinScale)
	r.float("VIEW_MAX_SCALE", &cfg.ViewMaxScale)
	r.float("VIEW_ZOOM_STEP", &cfg.ViewZoomStep)
	r.int("PREFETCH_RADIUS", &cfg.PrefetchRadius)
	r.int("PREFETCH_MAX_DIM", &cfg.PrefetchMaxDim)
	r.str("LOG_LEVEL", &cfg.LogLevel)
	r.str("LOG_FILE", &cfg.LogFile)
	r.str("APP_ENV", &cfg.AppEnv)

	if r.err != nil {
		return nil, r.err
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.SAMURL = strings.TrimRight(cfg.SAMURL, "/")
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// reader collects the first parse error so Load reports one message.
type reader struct {
	getenv func(string) string
	err    error
}

func (r *reader) str(key string, dst *string) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		*dst = v
	}
}

func (r *reader) float(key string, dst *float64) {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" || r.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = f
}

func (r *reader) int(key string, dst *int) {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" || r.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

// duration accepts Go duration syntax or a bare number of seconds.
func (r *reader) duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" || r.err != nil {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

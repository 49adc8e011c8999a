package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Dataset DatasetConfig `yaml:"dataset"`
	Match   MatchConfig   `yaml:"match"`
	GPS     GPSConfig     `yaml:"gps"`
	Web     WebConfig     `yaml:"web"`
	Display DisplayConfig `yaml:"display"`
	Log     LogConfig     `yaml:"log"`
}

type DatasetConfig struct {
	Path       string `yaml:"path"`
	URL        string `yaml:"url" validate:"omitempty,url"`
	IDProperty string `yaml:"id_property"`
	// BoundaryMarginM is a pointer so an explicit 0 (exact union) survives
	// defaulting.
	BoundaryMarginM *float64 `yaml:"boundary_margin_m" validate:"omitempty,gte=0"`
}

type MatchConfig struct {
	FallbackThresholdM float64 `yaml:"fallback_threshold_m" validate:"gte=0"`
	StrictOnly         bool    `yaml:"strict_only"`
}

type GPSConfig struct {
	Source             string        `yaml:"source" validate:"oneof=nmea gpsd sim replay none"`
	Device             string        `yaml:"device"`
	Baud               int           `yaml:"baud" validate:"gte=0"`
	GPSDAddr           string        `yaml:"gpsd_addr"`
	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout"`
	HighAccuracy       *bool         `yaml:"high_accuracy"`
	Sim                SimConfig     `yaml:"sim"`
	Replay             ReplayConfig  `yaml:"replay"`
	Record             RecordConfig  `yaml:"record"`
}

type SimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg" validate:"gte=-90,lte=90"`
	CenterLonDeg float64       `yaml:"center_lon_deg" validate:"gte=-180,lte=180"`
	RadiusM      float64       `yaml:"radius_m" validate:"gte=0"`
	Period       time.Duration `yaml:"period"`
	Interval     time.Duration `yaml:"interval"`
	AccuracyM    float64       `yaml:"accuracy_m" validate:"gte=0"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

// RecordConfig tees live fixes into a fix log. An empty path disables it.
type RecordConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines" validate:"gte=0"`
}

type DisplayConfig struct {
	Log   *bool       `yaml:"log"`
	UDP   UDPConfig   `yaml:"udp"`
	Redis RedisConfig `yaml:"redis"`
	LED   LEDConfig   `yaml:"led"`
}

type UDPConfig struct {
	Dest string `yaml:"dest"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

// LEDConfig drives a GPIO line while a parcel is highlighted. A nil pin
// disables it.
type LEDConfig struct {
	Pin *int `yaml:"pin" validate:"omitempty,gte=0,lte=64"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Load reads a .env file next to path (if any), parses path, applies
// PLOTWATCH_* environment overrides and finally defaults and validation.
func Load(path string) (Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, unknownFieldsError(err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldsError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) || len(te.Errors) == 0 {
		return err
	}
	msgs := make([]string, 0, len(te.Errors))
	for _, e := range te.Errors {
		if !strings.Contains(e, " not found in type ") {
			return err
		}
		if i := strings.Index(e, ": "); i >= 0 && strings.HasPrefix(e, "line ") {
			e = e[i+2:]
		}
		msgs = append(msgs, e)
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
}

// Environment overrides, applied after the YAML file.
const (
	EnvDatasetPath   = "PLOTWATCH_DATASET_PATH"
	EnvDatasetURL    = "PLOTWATCH_DATASET_URL"
	EnvGPSSource     = "PLOTWATCH_GPS_SOURCE"
	EnvGPSDevice     = "PLOTWATCH_GPS_DEVICE"
	EnvGPSDAddr      = "PLOTWATCH_GPSD_ADDR"
	EnvHighAccuracy  = "PLOTWATCH_GPS_HIGH_ACCURACY"
	EnvWebListen     = "PLOTWATCH_WEB_LISTEN"
	EnvUDPDest       = "PLOTWATCH_UDP_DEST"
	EnvRedisAddr     = "PLOTWATCH_REDIS_ADDR"
	EnvRedisPassword = "PLOTWATCH_REDIS_PASSWORD"
	EnvLogLevel      = "PLOTWATCH_LOG_LEVEL"
	EnvLogFormat     = "PLOTWATCH_LOG_FORMAT"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvDatasetPath, &cfg.Dataset.Path)
	str(EnvDatasetURL, &cfg.Dataset.URL)
	str(EnvGPSSource, &cfg.GPS.Source)
	str(EnvGPSDevice, &cfg.GPS.Device)
	str(EnvGPSDAddr, &cfg.GPS.GPSDAddr)
	str(EnvWebListen, &cfg.Web.Listen)
	str(EnvUDPDest, &cfg.Display.UDP.Dest)
	str(EnvRedisAddr, &cfg.Display.Redis.Addr)
	str(EnvRedisPassword, &cfg.Display.Redis.Password)
	str(EnvLogLevel, &cfg.Log.Level)
	str(EnvLogFormat, &cfg.Log.Format)

	if v, ok := lookup(EnvHighAccuracy); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be a boolean", EnvHighAccuracy)
		}
		cfg.GPS.HighAccuracy = &b
	}
	return nil
}

// DefaultAndValidate fills unset fields and rejects inconsistent settings.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	cfg.Dataset.Path = strings.TrimSpace(cfg.Dataset.Path)
	cfg.Dataset.URL = strings.TrimSpace(cfg.Dataset.URL)
	if cfg.Dataset.Path == "" && cfg.Dataset.URL == "" {
		return fmt.Errorf("dataset.path or dataset.url is required")
	}
	if cfg.Dataset.Path != "" && cfg.Dataset.URL != "" {
		return fmt.Errorf("dataset.path and dataset.url cannot both be set")
	}
	if cfg.Dataset.IDProperty == "" {
		cfg.Dataset.IDProperty = "plot_no"
	}
	if cfg.Dataset.BoundaryMarginM == nil {
		m := 50.0
		cfg.Dataset.BoundaryMarginM = &m
	}

	if cfg.Match.FallbackThresholdM == 0 {
		cfg.Match.FallbackThresholdM = 50
	}

	cfg.GPS.Source = strings.ToLower(strings.TrimSpace(cfg.GPS.Source))
	if cfg.GPS.Source == "" {
		cfg.GPS.Source = "nmea"
	}
	if cfg.GPS.Baud == 0 {
		cfg.GPS.Baud = 9600
	}
	if cfg.GPS.GPSDAddr == "" {
		cfg.GPS.GPSDAddr = "127.0.0.1:2947"
	}
	if cfg.GPS.AcquisitionTimeout == 0 {
		cfg.GPS.AcquisitionTimeout = 10 * time.Second
	}
	if cfg.GPS.AcquisitionTimeout < 0 {
		return fmt.Errorf("gps.acquisition_timeout must be >= 0")
	}
	if cfg.GPS.HighAccuracy == nil {
		t := true
		cfg.GPS.HighAccuracy = &t
	}

	// Simulator defaults (safe even if not selected).
	if cfg.GPS.Sim.RadiusM <= 0 {
		cfg.GPS.Sim.RadiusM = 30
	}
	if cfg.GPS.Sim.Period <= 0 {
		cfg.GPS.Sim.Period = 120 * time.Second
	}
	if cfg.GPS.Sim.Interval <= 0 {
		cfg.GPS.Sim.Interval = 1 * time.Second
	}
	if cfg.GPS.Sim.AccuracyM <= 0 {
		cfg.GPS.Sim.AccuracyM = 5
	}

	if cfg.GPS.Source == "replay" {
		if strings.TrimSpace(cfg.GPS.Replay.Path) == "" {
			return fmt.Errorf("gps.replay.path is required when gps.source is replay")
		}
		if cfg.GPS.Replay.Speed == 0 {
			cfg.GPS.Replay.Speed = 1
		}
		if cfg.GPS.Replay.Speed < 0 {
			return fmt.Errorf("gps.replay.speed must be > 0")
		}
		if cfg.GPS.Record.Path != "" {
			return fmt.Errorf("gps.record cannot be used with gps.source replay")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
		return fmt.Errorf("web.listen must be host:port")
	}
	if cfg.Web.LogLines == 0 {
		cfg.Web.LogLines = 2000
	}

	if cfg.Display.Log == nil {
		t := true
		cfg.Display.Log = &t
	}
	if d := strings.TrimSpace(cfg.Display.UDP.Dest); d != "" {
		if _, _, err := net.SplitHostPort(d); err != nil {
			return fmt.Errorf("display.udp.dest must be host:port")
		}
	}
	if cfg.Display.Redis.Addr != "" && cfg.Display.Redis.Channel == "" {
		cfg.Display.Redis.Channel = "plotwatch:highlight"
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))

	return validateTags(cfg)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateTags(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Errorf("%s must be <= %s", field, fe.Param())
	case "url":
		return fmt.Errorf("%s must be a valid URL", field)
	default:
		return fmt.Errorf("%s is invalid (%s)", field, fe.Tag())
	}
}

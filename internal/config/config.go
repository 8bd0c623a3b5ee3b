// Package config loads value-agent settings: defaults, then an optional YAML
// file, then VALUE_AGENT_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/joelkehle/value-model-agent/internal/calc"
	"github.com/joelkehle/value-model-agent/internal/enrich"
	"github.com/joelkehle/value-model-agent/internal/session"
)

const envPrefix = "VALUE_AGENT_"

type Config struct {
	Server     Server      `yaml:"server"`
	Store      Store       `yaml:"store"`
	Session    Session     `yaml:"session"`
	Calc       calc.Config `yaml:"calc"`
	Enrichment Enrichment  `yaml:"enrichment"`
	Patterns   Patterns    `yaml:"patterns"`
	Relay      Relay       `yaml:"relay"`
	Report     Report      `yaml:"report"`
	Telemetry  Telemetry   `yaml:"telemetry"`
	Log        Log         `yaml:"log"`
}

type Server struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type Store struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

type Session struct {
	AutosaveInterval time.Duration `yaml:"autosave_interval" validate:"gte=1s"`
}

type Enrichment struct {
	Enabled bool          `yaml:"enabled"`
	Model   string        `yaml:"model" validate:"required_if=Enabled true"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`

	// APIKey only comes from the environment.
	APIKey string `yaml:"-"`
}

type Patterns struct {
	// File replaces the built-in pattern library when set.
	File string `yaml:"file"`
}

type Relay struct {
	InboundRate    float64  `yaml:"inbound_rate" validate:"gt=0"`
	InboundBurst   int      `yaml:"inbound_burst" validate:"gte=1"`
	ClientBuffer   int      `yaml:"client_buffer" validate:"gte=1"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required"`
}

type Report struct {
	ChromePath string `yaml:"chrome_path"`
	PDFEnabled bool   `yaml:"pdf_enabled"`
}

type Telemetry struct {
	ServiceName  string  `yaml:"service_name" validate:"required"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SampleRatio  float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type Log struct {
	Format string `yaml:"format" validate:"oneof=json text"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Store:   Store{DBPath: "data/value-models.db"},
		Session: Session{AutosaveInterval: session.DefaultAutosaveInterval},
		Calc:    calc.DefaultConfig(),
		Enrichment: Enrichment{
			Model:   enrich.DefaultModel,
			Timeout: enrich.DefaultTimeout,
		},
		Relay: Relay{
			InboundRate:  5,
			InboundBurst: 10,
			ClientBuffer: 64,
		},
		Report:    Report{PDFEnabled: true},
		Telemetry: Telemetry{ServiceName: "value-agent", SampleRatio: 1},
		Log:       Log{Format: "json", Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		blob, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(blob, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(blob []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := get(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	if port, ok := lookup("PORT"); ok && strings.TrimSpace(port) != "" {
		c.Server.Addr = ":" + strings.TrimSpace(port)
	}
	str("ADDR", &c.Server.Addr)
	str("DB_PATH", &c.Store.DBPath)
	dur("AUTOSAVE_INTERVAL", &c.Session.AutosaveInterval)
	boolean("ENRICH_ENABLED", &c.Enrichment.Enabled)
	str("ENRICH_MODEL", &c.Enrichment.Model)
	dur("ENRICH_TIMEOUT", &c.Enrichment.Timeout)
	str("PATTERNS_FILE", &c.Patterns.File)
	str("CHROME_PATH", &c.Report.ChromePath)
	boolean("PDF_ENABLED", &c.Report.PDFEnabled)
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && strings.TrimSpace(v) != "" {
		c.Telemetry.OTLPEndpoint = strings.TrimSpace(v)
	}
	str("OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	boolean("OTLP_INSECURE", &c.Telemetry.Insecure)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.Relay.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Relay.AllowedOrigins = append(c.Relay.AllowedOrigins, o)
			}
		}
	}
	if v, ok := lookup("ANTHROPIC_API_KEY"); ok {
		c.Enrichment.APIKey = strings.TrimSpace(v)
	}
	return errors.Join(errs...)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the calculation assumptions.
func (c Config) Validate() error {
	var errs []error
	if err := validate.StructExcept(c, "Calc"); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	if err := c.Calc.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Enrichment.Enabled && c.Enrichment.APIKey == "" {
		errs = append(errs, errors.New("enrichment enabled but ANTHROPIC_API_KEY is not set"))
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"skywatch.live/sentinel/internal/engine"
)

// maxTrustWeight is the top of the trust scale; candidate sources are
// validated against the same ceiling.
const maxTrustWeight = 4

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"SW_LISTEN_ADDR" default:":8080"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"SW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"SW_DB_MAX_CONNS" default:"8"`

	EmbedEndpoint   string        `envconfig:"EMBED_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbedModelName  string        `envconfig:"EMBED_MODEL_NAME" default:"bge-m3"`
	EmbedModelVer   string        `envconfig:"EMBED_MODEL_VERSION" default:"v1"`
	EmbedDimensions int           `envconfig:"EMBED_DIMENSIONS" default:"1024"`
	EmbedMaxLength  int           `envconfig:"EMBED_MAX_LENGTH" default:"512"`
	EmbedTimeout    time.Duration `envconfig:"EMBED_TIMEOUT" default:"15s"`

	JudgeEndpoint string        `envconfig:"JUDGE_ENDPOINT" default:"http://127.0.0.1:8845/judge"`
	JudgeModel    string        `envconfig:"JUDGE_MODEL" default:"qwen3-32b"`
	JudgeTimeout  time.Duration `envconfig:"JUDGE_TIMEOUT" default:"20s"`

	// Matcher thresholds and windows. Defaults mirror the calibration the
	// engine shipped with; every deployment is expected to tune them.
	FuzzyRadiusKM       float64 `envconfig:"FUZZY_RADIUS_KM" default:"5"`
	FuzzyWindowHours    float64 `envconfig:"FUZZY_WINDOW_HOURS" default:"24"`
	FuzzyThreshold      float64 `envconfig:"FUZZY_THRESHOLD" default:"0.75"`
	SemanticRadiusKM    float64 `envconfig:"SEMANTIC_RADIUS_KM" default:"50"`
	SemanticWindowHours float64 `envconfig:"SEMANTIC_WINDOW_HOURS" default:"48"`
	SemanticAccept      float64 `envconfig:"SEMANTIC_ACCEPT" default:"0.92"`
	SemanticBorderline  float64 `envconfig:"SEMANTIC_BORDERLINE" default:"0.85"`
	JudgeConfidence     float64 `envconfig:"JUDGE_CONFIDENCE" default:"0.80"`

	// Trust-tier policy: 1=social/unverified, 2=media, 3=verified media,
	// 4=official. Kept as data so the scoring policy stays auditable.
	TrustOfficialMin int `envconfig:"TRUST_OFFICIAL_MIN" default:"4"`
	TrustCredibleMin int `envconfig:"TRUST_CREDIBLE_MIN" default:"2"`

	// Per-category fallback radius in km. The key set doubles as the
	// category enum accepted by the normalizer.
	CategoryRadiusKM map[string]float64 `envconfig:"CATEGORY_RADIUS_KM" default:"airport:3,military:3,harbor:5,powerplant:2,government:2,urban:10,other:15"`

	// Token synonyms applied before fuzzy title comparison.
	TitleSynonyms map[string]string `envconfig:"TITLE_SYNONYMS" default:"uav:drone,uas:drone,quadcopter:drone,multicopter:drone,dron:drone,drohne:drone"`

	Workers int `envconfig:"SW_WORKERS" default:"4"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("SW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("SW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("SW_DB_MIN_CONNS (%d) cannot exceed SW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.EmbedDimensions < 1 {
		return fmt.Errorf("EMBED_DIMENSIONS must be >= 1")
	}
	if c.FuzzyRadiusKM <= 0 || c.SemanticRadiusKM <= 0 {
		return fmt.Errorf("matcher radii must be > 0")
	}
	if c.FuzzyWindowHours <= 0 || c.SemanticWindowHours <= 0 {
		return fmt.Errorf("matcher windows must be > 0")
	}
	if !inUnitInterval(c.FuzzyThreshold) || !inUnitInterval(c.SemanticAccept) ||
		!inUnitInterval(c.SemanticBorderline) || !inUnitInterval(c.JudgeConfidence) {
		return fmt.Errorf("similarity thresholds must be within [0,1]")
	}
	if c.SemanticBorderline >= c.SemanticAccept {
		return fmt.Errorf("SEMANTIC_BORDERLINE (%f) must be below SEMANTIC_ACCEPT (%f)", c.SemanticBorderline, c.SemanticAccept)
	}
	if c.TrustCredibleMin < 1 || c.TrustOfficialMin < c.TrustCredibleMin || c.TrustOfficialMin > maxTrustWeight {
		return fmt.Errorf("trust tier policy is inconsistent: credible_min=%d official_min=%d max_weight=%d", c.TrustCredibleMin, c.TrustOfficialMin, maxTrustWeight)
	}
	if len(c.CategoryRadiusKM) == 0 {
		return fmt.Errorf("CATEGORY_RADIUS_KM must define at least one category")
	}
	for category, radius := range c.CategoryRadiusKM {
		if strings.TrimSpace(category) == "" || radius <= 0 {
			return fmt.Errorf("invalid category radius %q:%f", category, radius)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("SW_WORKERS must be >= 1")
	}
	return nil
}

func inUnitInterval(v float64) bool {
	return v >= 0 && v <= 1
}

// Engine flattens the environment-shaped settings into the cascade's own
// config struct. Hour-valued windows become durations here.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		FuzzyRadiusKM:  c.FuzzyRadiusKM,
		FuzzyWindow:    time.Duration(c.FuzzyWindowHours * float64(time.Hour)),
		FuzzyThreshold: c.FuzzyThreshold,

		SemanticRadiusKM:   c.SemanticRadiusKM,
		SemanticWindow:     time.Duration(c.SemanticWindowHours * float64(time.Hour)),
		SemanticAccept:     c.SemanticAccept,
		SemanticBorderline: c.SemanticBorderline,

		JudgeConfidence: c.JudgeConfidence,

		EmbedDimensions: c.EmbedDimensions,

		Trust: engine.TrustPolicy{
			OfficialMin: c.TrustOfficialMin,
			CredibleMin: c.TrustCredibleMin,
			MaxWeight:   maxTrustWeight,
		},

		CategoryRadiusKM: c.CategoryRadiusKM,
		TitleSynonyms:    c.TitleSynonyms,
	}
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del maker.
// Los secretos (private key, funder) vienen SOLO de variables de entorno /
// .env, nunca del YAML.
type Config struct {
	Markets []string      `yaml:"markets"` // slugs de los mercados a cotizar
	Maker   MakerConfig   `yaml:"maker"`
	API     APIConfig     `yaml:"api"`
	Chain   ChainConfig   `yaml:"chain"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`

	Wallet WalletConfig `yaml:"-"` // solo env
}

// MakerConfig controla el comportamiento de cada instancia del maker.
// Cero significa "usar el default de producción".
type MakerConfig struct {
	OrderSizeShares   float64 `yaml:"order_size_shares"`
	OrderTTLSeconds   int     `yaml:"order_ttl_seconds"`
	PlaceCooldownSecs int     `yaml:"place_cooldown_seconds"`
	ReplaceCooldown   int     `yaml:"replace_cooldown_seconds"`
	MidMoveThreshold  float64 `yaml:"mid_move_threshold"`
	MaxNotionalUSDC   float64 `yaml:"max_notional_usdc"`   // tope Σ precio×size de órdenes abiertas
	MaxPositionShares float64 `yaml:"max_position_shares"` // tope de inventario por token

	QuoteIntervalSecs     int `yaml:"quote_interval_seconds"`
	ReconcileIntervalSecs int `yaml:"reconcile_interval_seconds"`
	ResyncIntervalSecs    int `yaml:"resync_interval_seconds"`

	DoubtRequerySecs int `yaml:"doubt_requery_seconds"`
	DoubtHardSecs    int `yaml:"doubt_hard_seconds"`
	FeedStaleSecs    int `yaml:"feed_stale_seconds"`

	AllowanceThresholdUSDC float64 `yaml:"allowance_threshold_usdc"`

	Guard GuardConfig `yaml:"guard"`
}

// GuardConfig son los tunables del price guard post-only.
type GuardConfig struct {
	ImprovementTicks   int     `yaml:"improvement_ticks"`
	MaxDistanceFromMid float64 `yaml:"max_distance_from_mid"`
	MinSpreadMult      float64 `yaml:"min_spread_mult"`
	MaxSpreadMult      float64 `yaml:"max_spread_mult"`
	BaseSpread         float64 `yaml:"base_spread"`
	ParityTolerance    float64 `yaml:"parity_tolerance"`
}

// APIConfig contiene los base URLs de las APIs y los endpoints websocket.
type APIConfig struct {
	CLOBBase    string `yaml:"clob_base"`
	GammaBase   string `yaml:"gamma_base"`
	MarketWSURL string `yaml:"market_ws_url"`
	UserWSURL   string `yaml:"user_ws_url"`
}

// ChainConfig apunta al RPC de Polygon para las lecturas on-chain.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// StorageConfig controla dónde se persiste el estado del maker.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla formato, nivel y rotación del logging.
// Si File está vacío se loguea solo a stdout; si no, se escribe además a un
// archivo con rotación.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WalletConfig son las credenciales de firma, solo desde env:
//
//	PRIVATE_KEY    — clave privada de la EOA firmante (con o sin 0x)
//	FUNDER_ADDRESS — proxy wallet que liquida las órdenes (vacío = la EOA)
type WalletConfig struct {
	PrivateKey string
	Funder     string
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Las variables de entorno sobreescriben el YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate comprueba lo mínimo para poder operar.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("config: PRIVATE_KEY no definida (env o .env)")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("config: lista de markets vacía")
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: chain.rpc_url (o POLYGON_RPC_URL) requerida")
	}
	return nil
}

// Duraciones derivadas de los campos en segundos. Cero se mapea a cero y el
// maker aplica su propio default.

func (m MakerConfig) OrderTTL() time.Duration {
	return time.Duration(m.OrderTTLSeconds) * time.Second
}

func (m MakerConfig) PlaceCooldown() time.Duration {
	return time.Duration(m.PlaceCooldownSecs) * time.Second
}

func (m MakerConfig) ReplaceCooldownDur() time.Duration {
	return time.Duration(m.ReplaceCooldown) * time.Second
}

func (m MakerConfig) QuoteInterval() time.Duration {
	return time.Duration(m.QuoteIntervalSecs) * time.Second
}

func (m MakerConfig) ReconcileInterval() time.Duration {
	return time.Duration(m.ReconcileIntervalSecs) * time.Second
}

func (m MakerConfig) ResyncInterval() time.Duration {
	return time.Duration(m.ResyncIntervalSecs) * time.Second
}

func (m MakerConfig) DoubtRequeryDelay() time.Duration {
	return time.Duration(m.DoubtRequerySecs) * time.Second
}

func (m MakerConfig) DoubtHardThreshold() time.Duration {
	return time.Duration(m.DoubtHardSecs) * time.Second
}

func (m MakerConfig) FeedStaleAfter() time.Duration {
	return time.Duration(m.FeedStaleSecs) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están
// presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("FUNDER_ADDRESS"); v != "" {
		cfg.Wallet.Funder = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("MARKETS"); v != "" {
		cfg.Markets = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los tunables del maker quedan en cero: sus defaults viven junto al engine.
func setDefaults(cfg *Config) {
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polymaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cron       CronConfig       `mapstructure:"cron"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Plan       PlanConfig       `mapstructure:"plan"`

	// PlanOverrides maps a plan version to partial overrides of the base
	// plan values, merged at resolve time.
	PlanOverrides map[string]map[string]any `mapstructure:"plan_overrides"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	WeeklySettle    string `mapstructure:"weekly_settle"`
	QuarterlySettle string `mapstructure:"quarterly_settle"`
}

type SettlementConfig struct {
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	MaxChainDepth int           `mapstructure:"max_chain_depth"`
}

// PlanConfig is the base compensation-plan rate table. Rates are fractions
// (0.10 = 10%); amounts are in wallet currency units. A settlement run
// resolves these once (with any version override applied) and stores the
// result verbatim in its snapshot.
type PlanConfig struct {
	Version string `mapstructure:"version"`

	PVPerUnit float64 `mapstructure:"pv_per_unit"`

	DirectRate        float64 `mapstructure:"direct_rate"`
	LevelPairRate     float64 `mapstructure:"level_pair_rate"`
	LevelPairMaxDepth int     `mapstructure:"level_pair_max_depth"`

	PairUnitPV     float64            `mapstructure:"pair_unit_pv"`
	PairUnitAmount float64            `mapstructure:"pair_unit_amount"`
	PairCapByRank  map[string]float64 `mapstructure:"pair_cap_by_rank"`
	DefaultPairCap float64            `mapstructure:"default_pair_cap"`

	ManagementRates          []GenerationRate `mapstructure:"management_rates"`
	ManagementMaxGenerations int              `mapstructure:"management_max_generations"`

	GlobalReserveRate float64 `mapstructure:"global_reserve_rate"`
	PayoutFraction    float64 `mapstructure:"payout_fraction"`

	ConsumerPoolRate float64            `mapstructure:"consumer_pool_rate"`
	LeaderPoolRate   float64            `mapstructure:"leader_pool_rate"`
	LeaderMinRank    string             `mapstructure:"leader_min_rank"`
	MinQuarterOrders int                `mapstructure:"min_quarter_orders"`
	MinQuarterWeakPV float64            `mapstructure:"min_quarter_weak_pv"`
	RankScores       map[string]float64 `mapstructure:"rank_scores"`

	PointsRate float64 `mapstructure:"points_rate"`
}

// GenerationRate applies Rate to matching attribution for generations
// FromGen..ToGen inclusive (1-based).
type GenerationRate struct {
	FromGen int     `mapstructure:"from_gen"`
	ToGen   int     `mapstructure:"to_gen"`
	Rate    float64 `mapstructure:"rate"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	// Monday 02:10 UTC settles the ISO week that ended Sunday night.
	v.SetDefault("cron.weekly_settle", "0 10 2 * * 1")
	// First day of the month at 03:10 UTC; the job itself skips months
	// that are not a quarter boundary.
	v.SetDefault("cron.quarterly_settle", "0 10 3 1 * *")
	v.SetDefault("settlement.lock_ttl", "5m")
	v.SetDefault("settlement.max_chain_depth", 10000)

	v.SetDefault("plan.version", "v1")
	v.SetDefault("plan.pv_per_unit", 100)
	v.SetDefault("plan.direct_rate", 0.10)
	v.SetDefault("plan.level_pair_rate", 0.05)
	v.SetDefault("plan.level_pair_max_depth", 12)
	v.SetDefault("plan.pair_unit_pv", 3000)
	v.SetDefault("plan.pair_unit_amount", 300)
	v.SetDefault("plan.default_pair_cap", 30000)
	v.SetDefault("plan.management_max_generations", 5)
	v.SetDefault("plan.management_rates", []map[string]any{
		{"from_gen": 1, "to_gen": 3, "rate": 0.10},
		{"from_gen": 4, "to_gen": 5, "rate": 0.05},
	})
	v.SetDefault("plan.global_reserve_rate", 0.04)
	v.SetDefault("plan.payout_fraction", 0.70)
	v.SetDefault("plan.consumer_pool_rate", 0.02)
	v.SetDefault("plan.leader_pool_rate", 0.03)
	v.SetDefault("plan.leader_min_rank", "director")
	v.SetDefault("plan.min_quarter_orders", 1)
	v.SetDefault("plan.min_quarter_weak_pv", 0)
	v.SetDefault("plan.points_rate", 0.01)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

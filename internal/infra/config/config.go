package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"tg-points-bot/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token          string  `envconfig:"TG_BOT_TOKEN"`
		APIID          int     `envconfig:"TG_API_ID"`
		APIHash        string  `envconfig:"TG_API_HASH"`
		ChatID         int64   `envconfig:"TG_CHAT_ID"`
		ValueChannelID int64   `envconfig:"TG_VALUE_CHANNEL_ID"`
		ReviewChatID   int64   `envconfig:"TG_REVIEW_CHAT_ID"`
		AdminIDs       []int64 `envconfig:"TG_ADMIN_IDS"`
		// WebhookPath включает приём апдейтов через HTTP. Пустое значение — long polling.
		WebhookPath string `envconfig:"TG_WEBHOOK_PATH"`
	} `envconfig:""`

	MTProto struct {
		SessionFile  string        `envconfig:"MTPROTO_SESSION_FILE" default:"mtproto.session"`
		PollInterval time.Duration `envconfig:"MTPROTO_POLL_INTERVAL" default:"2m"`
		LookbackDays int           `envconfig:"MTPROTO_LOOKBACK_DAYS" default:"3"`
	} `envconfig:""`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend string `envconfig:"EVENT_QUEUE_BACKEND" default:"redis"`
		Events  string `envconfig:"EVENT_QUEUE_KEY" default:"point_events"`
	} `envconfig:""`

	API struct {
		Token string `envconfig:"API_TOKEN"`
	} `envconfig:""`

	Retry struct {
		MaxRetries      uint64        `envconfig:"TX_MAX_RETRIES" default:"3"`
		InitialInterval time.Duration `envconfig:"TX_RETRY_INITIAL" default:"20ms"`
		MaxInterval     time.Duration `envconfig:"TX_RETRY_MAX" default:"250ms"`
	} `envconfig:""`

	Scheduler struct {
		LeaderboardSpec string `envconfig:"CRON_LEADERBOARD" default:"0 0 */6 * * *"`
		ReconcileSpec   string `envconfig:"CRON_RECONCILE" default:"0 0 * * * *"`
		PurgeSpec       string `envconfig:"CRON_PURGE" default:"0 0 3 * * *"`
	} `envconfig:""`

	Points struct {
		PointsPerMessage    int64 `envconfig:"POINTS_PER_MESSAGE" default:"1"`
		DailyCap            int64 `envconfig:"POINTS_DAILY_CAP" default:"1"`
		MinMessages         int   `envconfig:"ACTIVITY_MIN_MESSAGES" default:"1"`
		MaxValuePostsPerDay int   `envconfig:"MAX_VALUE_POSTS_PER_DAY" default:"2"`
		MaxReferrals        int   `envconfig:"MAX_REFERRALS" default:"10"`
		// Даты в формате 2006-01-02, пустое значение снимает границу.
		ChallengeStart string `envconfig:"CHALLENGE_START_DATE"`
		ChallengeEnd   string `envconfig:"CHALLENGE_END_DATE"`
	} `envconfig:""`

	RulesFile string `envconfig:"RULES_FILE"`
}

// Load загружает конфиг из .env (если он есть) и окружения.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("не удалось прочитать .env: %v", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Rules собирает правила начисления: значения по умолчанию, затем переменные окружения,
// затем файл правил.
func (c AppConfig) Rules() (domain.PointRules, domain.TierTable, error) {
	rules := domain.DefaultPointRules()
	rules.PointsPerMessage = c.Points.PointsPerMessage
	rules.DailyCap = c.Points.DailyCap
	rules.MinMessages = c.Points.MinMessages
	rules.MaxValuePostsPerDay = c.Points.MaxValuePostsPerDay
	rules.MaxReferrals = c.Points.MaxReferrals
	var err error
	if rules.ChallengeStart, err = parseDate("CHALLENGE_START_DATE", c.Points.ChallengeStart); err != nil {
		return rules, nil, err
	}
	if rules.ChallengeEnd, err = parseDate("CHALLENGE_END_DATE", c.Points.ChallengeEnd); err != nil {
		return rules, nil, err
	}
	tiers := domain.DefaultTierTable()
	if c.RulesFile == "" {
		return rules, tiers, rules.Validate()
	}
	return LoadRules(c.RulesFile, rules, tiers)
}

func parseDate(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	day, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("%s: ожидается дата ГГГГ-ММ-ДД: %w", name, err)
	}
	return &day, nil
}

// RulesFile — формат YAML-файла правил. Отсутствующие секции не меняют значения по умолчанию.
type RulesFile struct {
	Points *domain.PointRules `yaml:"points"`
	Tiers  domain.TierTable   `yaml:"tiers"`
}

// LoadRules читает YAML-файл правил поверх переданных значений.
func LoadRules(path string, rules domain.PointRules, tiers domain.TierTable) (domain.PointRules, domain.TierTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, tiers, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data, rules, tiers)
}

// ParseRules разбирает содержимое файла правил.
func ParseRules(data []byte, rules domain.PointRules, tiers domain.TierTable) (domain.PointRules, domain.TierTable, error) {
	file := RulesFile{Points: &rules}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, tiers, fmt.Errorf("parse rules file: %w", err)
	}
	if len(file.Tiers) > 0 {
		tiers = file.Tiers
	}
	if err := rules.Validate(); err != nil {
		return rules, tiers, err
	}
	if err := tiers.Validate(); err != nil {
		return rules, tiers, err
	}
	return rules, tiers, nil
}

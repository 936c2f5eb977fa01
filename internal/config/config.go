package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	ServiceName string
	ShopName    string
	TimeZone    *time.Location

	AbsenceTimeout    time.Duration
	RolloverInterval  time.Duration
	RolloverPolicy    string
	ShopAutoArrive    bool
	MaxPartySize      int
	WaitAverageWindow int

	EstimateFloorMinutes    float64
	EstimateSafetyFactor    float64
	EstimateRoundingMinutes int

	PrinterEnabled     bool
	WaitDisplayEnabled bool

	StoreBackend    string
	DataFile        string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKey        string
	PersistInterval time.Duration

	NATSURL     string
	NATSSubject string

	ShopEmail        string
	SendGridAPIKey   string
	MailFrom         string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPassword     string
	LINEChannelToken string
	LINETo           string
	WebhookURL       string
	NotifyTimeout    time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
	AllowedOrigins     []string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, fills variables that are not already
// set.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	return Config{
		Port:        port,
		ServiceName: readString("SERVICE_NAME", "waitlist-service"),
		ShopName:    readString("SHOP_NAME", "松乃木飯店"),
		TimeZone:    readLocation("SHOP_TIMEZONE", "Asia/Tokyo"),

		AbsenceTimeout:    readDurationSeconds("ABSENCE_TIMEOUT_SECONDS", 600),
		RolloverInterval:  readDurationSeconds("ROLLOVER_CHECK_SECONDS", 60),
		RolloverPolicy:    readString("ROLLOVER_POLICY", "keep"),
		ShopAutoArrive:    readBool("SHOP_AUTO_ARRIVE", true),
		MaxPartySize:      readInt("MAX_PARTY_SIZE", 20),
		WaitAverageWindow: readInt("WAIT_AVERAGE_WINDOW", 10),

		EstimateFloorMinutes:    readFloat("ESTIMATE_FLOOR_MINUTES", 5),
		EstimateSafetyFactor:    readFloat("ESTIMATE_SAFETY_FACTOR", 1.2),
		EstimateRoundingMinutes: readInt("ESTIMATE_ROUNDING_MINUTES", 5),

		PrinterEnabled:     readBool("PRINTER_ENABLED", true),
		WaitDisplayEnabled: readBool("WAIT_TIME_DISPLAY_ENABLED", false),

		StoreBackend:    readString("STORE_BACKEND", "file"),
		DataFile:        readString("DATA_FILE", "data/waitlist.json"),
		DatabaseURL:     os.Getenv("DB_DSN"),
		RedisAddr:       readString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         readInt("REDIS_DB", 0),
		RedisKey:        readString("REDIS_KEY", "waitlist:state"),
		PersistInterval: readDurationMillis("PERSIST_DEBOUNCE_MS", 200),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: readString("NATS_SUBJECT", "waitlist.events"),

		ShopEmail:        os.Getenv("SHOP_EMAIL"),
		SendGridAPIKey:   strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		MailFrom:         os.Getenv("MAIL_FROM"),
		SMTPHost:         readString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:         readInt("SMTP_PORT", 465),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPassword:     strings.Join(strings.Fields(os.Getenv("SMTP_PASSWORD")), ""),
		LINEChannelToken: os.Getenv("LINE_CHANNEL_TOKEN"),
		LINETo:           os.Getenv("LINE_TO"),
		WebhookURL:       os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyTimeout:    readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 10),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 30),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 10),
		AllowedOrigins:     readList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func readLocation(key, fallback string) *time.Location {
	name := readString(key, fallback)
	location, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("config: unknown time zone %q, using UTC+9: %v", name, err)
		return time.FixedZone("JST", 9*60*60)
	}
	return location
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

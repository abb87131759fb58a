package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	QueueLocal = "local"
	QueueAMQP  = "amqp"
)

type DeliveryConfig struct {
	BatchSize   int
	BatchDelay  time.Duration
	RatePerSec  float64
	FailureRate float64

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	FromAddr string
	FromName string
	// SMTPTimeout bounds one SMTP send.
	SMTPTimeout time.Duration
}

type AIConfig struct {
	APIKey           string
	Model            string
	BreakerThreshold int
	BreakerTimeout   time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      time.Duration
	MinPromptLength  int
}

type APIConfig struct {
	Port          string
	DBDSN         string
	QueueMode     string
	RMQURL        string
	Queue         string
	MaxRecipients int
	Delivery      DeliveryConfig
	AI            AIConfig
}

type WorkerConfig struct {
	DBDSN  string
	RMQURL string
	Queue  string
	// RunTimeout caps one campaign run. Zero disables the cap.
	RunTimeout time.Duration
	Delivery   DeliveryConfig
}

type CLIConfig struct {
	DBDSN string
}

var (
	API    APIConfig
	Worker WorkerConfig
	CLI    CLIConfig
)

// loadDotEnv reads .env when present. Variables already set in the
// environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Fatalf("env %s: %v", k, err)
	}
	return n
}

func getFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Fatalf("env %s: %v", k, err)
	}
	return f
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Fatalf("env %s: %v", k, err)
	}
	return d
}

func loadDelivery() DeliveryConfig {
	return DeliveryConfig{
		BatchSize:   getInt("DELIVERY_BATCH_SIZE", 10),
		BatchDelay:  getDuration("DELIVERY_BATCH_DELAY", 100*time.Millisecond),
		RatePerSec:  getFloat("SEND_RATE_PER_SEC", 0),
		FailureRate: getFloat("SIMULATED_SEND_FAILURE_RATE", 0),
		SMTPHost:    getenv("SMTP_HOST", ""),
		SMTPPort:    getenv("SMTP_PORT", "587"),
		SMTPUser:    getenv("SMTP_USER", ""),
		SMTPPass:    getenv("SMTP_PASS", ""),
		FromAddr:    getenv("FROM_EMAIL", ""),
		FromName:    getenv("FROM_NAME", ""),
		SMTPTimeout: getDuration("SMTP_TIMEOUT", 30*time.Second),
	}
}

func MustLoadAPI() {
	loadDotEnv()
	mode := strings.ToLower(getenv("QUEUE_MODE", QueueLocal))
	if mode != QueueLocal && mode != QueueAMQP {
		log.Fatalf("env QUEUE_MODE: unknown mode %q", mode)
	}
	rmqURL := getenv("RMQ_URL", "")
	if mode == QueueAMQP {
		rmqURL = mustEnv("RMQ_URL")
	}

	API = APIConfig{
		Port:          getenv("PORT", "8080"),
		DBDSN:         mustEnv("DB_DSN"),
		QueueMode:     mode,
		RMQURL:        rmqURL,
		Queue:         getenv("QUEUE", "campaign_delivery"),
		MaxRecipients: getInt("MAX_CAMPAIGN_RECIPIENTS", 10000),
		Delivery:      loadDelivery(),
		AI: AIConfig{
			APIKey:           getenv("GEMINI_API_KEY", ""),
			Model:            getenv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
			BreakerThreshold: getInt("AI_BREAKER_THRESHOLD", 3),
			BreakerTimeout:   getDuration("AI_BREAKER_TIMEOUT", 60*time.Second),
			RetryAttempts:    getInt("AI_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:   getDuration("AI_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:    getDuration("AI_RETRY_MAX_DELAY", 10*time.Second),
			RetryJitter:      getDuration("AI_RETRY_JITTER", 500*time.Millisecond),
			MinPromptLength:  getInt("MIN_PROMPT_LENGTH", 5),
		},
	}
}

func MustLoadWorker() {
	loadDotEnv()
	Worker = WorkerConfig{
		DBDSN:      mustEnv("DB_DSN"),
		RMQURL:     mustEnv("RMQ_URL"),
		Queue:      getenv("QUEUE", "campaign_delivery"),
		RunTimeout: getDuration("DELIVERY_RUN_TIMEOUT", 30*time.Minute),
		Delivery:   loadDelivery(),
	}
}

func MustLoadCLI() {
	loadDotEnv()
	CLI = CLIConfig{DBDSN: mustEnv("DB_DSN")}
}

package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port              int
	NatsURL           string
	DatabaseURL       string
	LogLevel          string
	ChatServer        string
	BotNick           string
	IngestUser        string
	RoutesFile        string
	SeqnumOrigin      int64
	QueueMax          int
	SMSRelayURL       string
	SMSRelayUser      string
	SMSRelayPass      string
	SMSTimeout        time.Duration
	SlackBotToken     string
	SlackAlertChannel string
}

func Load() Config {
	return Config{
		Port:              envInt("IEMBOT_PORT", 9003),
		NatsURL:           envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		ChatServer:        envStr("IEMBOT_CHATSERVER", "weather.im"),
		BotNick:           envStr("IEMBOT_NICK", "iembot"),
		IngestUser:        envStr("IEMBOT_INGEST_USER", "iembot_ingest"),
		RoutesFile:        envStr("IEMBOT_ROUTES_FILE", ""),
		SeqnumOrigin:      int64(envInt("IEMBOT_SEQNUM_ORIGIN", 0)),
		QueueMax:          envInt("IEMBOT_QUEUE_MAX", 10000),
		SMSRelayURL:       envStr("SMS_RELAY_URL", "https://mobile.wrh.noaa.gov/mobile_secure/quios_relay.php"),
		SMSRelayUser:      envStr("SMS_RELAY_USER", ""),
		SMSRelayPass:      envStr("SMS_RELAY_PASS", ""),
		SMSTimeout:        envDur("SMS_TIMEOUT_MS", 30000),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// MUCDomain is the multi-user-chat service host, e.g. conference.weather.im.
func (c Config) MUCDomain() string {
	return "conference." + c.ChatServer
}

// IngestIdentity is the bare identity whose private messages are bulletins.
func (c Config) IngestIdentity() string {
	return c.IngestUser + "@" + c.ChatServer
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}

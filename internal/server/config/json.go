package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/wagate/internal/flagx"
	"github.com/dmitrijs2005/wagate/internal/mailer"
	"github.com/dmitrijs2005/wagate/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "5s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, the fields that are present are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP       string         `json:"endpoint_addr_http"`
	DatabaseDSN            string         `json:"database_dsn"`
	StoreDialect           string         `json:"store_dialect"`
	StoreDSN               string         `json:"store_dsn"`
	SecretKey              string         `json:"secret_key"`
	SessionSecret          string         `json:"session_secret"`
	PublicIDSalt           string         `json:"public_id_salt"`
	PublicIDMinLength      int            `json:"public_id_min_length"`
	LogLevel               string         `json:"log_level"`
	ReconnectDelay         timex.Duration `json:"reconnect_delay"`
	MaxReconnectAttempts   int            `json:"max_reconnect_attempts"`
	ChallengeTimeout       timex.Duration `json:"challenge_timeout"`
	AuthResponseTimeout    timex.Duration `json:"auth_response_timeout"`
	QueueRate              float64        `json:"queue_rate"`
	QueueAttempts          int            `json:"queue_attempts"`
	QueueBackoff           timex.Duration `json:"queue_backoff"`
	QueuePollInterval      timex.Duration `json:"queue_poll_interval"`
	BulkDelay              timex.Duration `json:"bulk_delay"`
	DisconnectNoticeWindow timex.Duration `json:"disconnect_notice_window"`
	ShutdownTimeout        timex.Duration `json:"shutdown_timeout"`
	Mail                   *mailer.Config `json:"mail"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The JSON file path comes from the -c or -config command-line flags. If it
// is not set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics. Fields missing from the file keep their
// current value.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StoreDialect, c.StoreDialect)
	setString(&config.StoreDSN, c.StoreDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.SessionSecret, c.SessionSecret)
	setString(&config.PublicIDSalt, c.PublicIDSalt)
	setString(&config.LogLevel, c.LogLevel)
	setInt(&config.PublicIDMinLength, c.PublicIDMinLength)
	setInt(&config.MaxReconnectAttempts, c.MaxReconnectAttempts)
	setInt(&config.QueueAttempts, c.QueueAttempts)
	if c.QueueRate > 0 {
		config.QueueRate = c.QueueRate
	}
	setDuration(&config.ReconnectDelay, c.ReconnectDelay)
	setDuration(&config.ChallengeTimeout, c.ChallengeTimeout)
	setDuration(&config.AuthResponseTimeout, c.AuthResponseTimeout)
	setDuration(&config.QueueBackoff, c.QueueBackoff)
	setDuration(&config.QueuePollInterval, c.QueuePollInterval)
	setDuration(&config.BulkDelay, c.BulkDelay)
	setDuration(&config.DisconnectNoticeWindow, c.DisconnectNoticeWindow)
	setDuration(&config.ShutdownTimeout, c.ShutdownTimeout)
	if c.Mail != nil {
		config.Mail = *c.Mail
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = time.Duration(v.Duration)
	}
}

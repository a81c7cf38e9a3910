package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/wagate/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":3000")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   session encryption secret
//	-p string   public id salt
//	-l string   log level (debug, info, warn, error)
//	-r int      reconnect delay, seconds
//	-m int      reconnect attempts before giving up
//	-t int      challenge timeout, seconds (0 disables)
//	-w int      auth response wait, seconds
//	-q float    queue rate, jobs per second
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in seconds and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-k", "-p", "-l", "-r", "-m", "-t", "-w", "-q"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.SessionSecret, "k", config.SessionSecret, "session encryption secret")
	fs.StringVar(&config.PublicIDSalt, "p", config.PublicIDSalt, "public id salt")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	reconnectDelay := fs.Int("r", int(config.ReconnectDelay.Seconds()), "reconnect delay (in seconds)")
	fs.IntVar(&config.MaxReconnectAttempts, "m", config.MaxReconnectAttempts, "reconnect attempts")
	challengeTimeout := fs.Int("t", int(config.ChallengeTimeout.Seconds()), "challenge timeout (in seconds, 0 disables)")
	authResponseTimeout := fs.Int("w", int(config.AuthResponseTimeout.Seconds()), "auth response wait (in seconds)")
	fs.Float64Var(&config.QueueRate, "q", config.QueueRate, "queue rate (jobs per second)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ReconnectDelay = time.Duration(*reconnectDelay) * time.Second
	config.ChallengeTimeout = time.Duration(*challengeTimeout) * time.Second
	config.AuthResponseTimeout = time.Duration(*authResponseTimeout) * time.Second
}

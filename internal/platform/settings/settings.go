// Package settings holds process-level settings read from the environment.
// Command-line flags override them.
package settings

import (
	"os"
	"strings"
)

// Server captures what the serve command needs besides the policy file.
type Server struct {
	Addr          string
	ConfigPath    string
	DatabaseURL   string
	RedisAddr     string
	KafkaBrokers  []string
	KafkaTopic    string
	JWTSigningKey string
	JWTIssuer     string
	LogFormat     string
}

// AuthEnabled reports whether bearer tokens are required.
func (s Server) AuthEnabled() bool { return s.JWTSigningKey != "" }

// FromEnv builds Server settings from UW_* variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          envOr("UW_ADDR", ":8080"),
		ConfigPath:    envOr("UW_CONFIG", "configs/policy.yaml"),
		DatabaseURL:   os.Getenv("UW_DATABASE_URL"),
		RedisAddr:     os.Getenv("UW_REDIS_ADDR"),
		KafkaBrokers:  SplitList(os.Getenv("UW_KAFKA_BROKERS")),
		KafkaTopic:    envOr("UW_KAFKA_TOPIC", "underwriting.case-transitions"),
		JWTSigningKey: os.Getenv("UW_JWT_SIGNING_KEY"),
		JWTIssuer:     os.Getenv("UW_JWT_ISSUER"),
		LogFormat:     envOr("UW_LOG_FORMAT", "text"),
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

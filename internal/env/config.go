package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"

	"github.com/luma/resplink/backlog"
	"github.com/luma/resplink/client"
)

var ErrUnknownPolicy = errors.New("Unknown backlog policy")

type Config struct {
	Addr     string `env:"RESPLINK_ADDR,default=127.0.0.1:6379"`
	Protocol int    `env:"RESPLINK_PROTOCOL,default=2"`

	LockTimeout    time.Duration `env:"RESPLINK_LOCK_TIMEOUT,default=5s"`
	CommandTimeout time.Duration `env:"RESPLINK_COMMAND_TIMEOUT,default=5s"`

	BacklogMax    int           `env:"RESPLINK_BACKLOG_MAX,default=1024"`
	BacklogPolicy string        `env:"RESPLINK_BACKLOG_POLICY,default=not-sent"`
	RetryInterval time.Duration `env:"RESPLINK_RETRY_INTERVAL,default=100ms"`

	MaxFrameSize int `env:"RESPLINK_MAX_FRAME_SIZE,default=536870912"`

	ValidateWrites bool `env:"RESPLINK_VALIDATE_WRITES"`
	Trace          bool `env:"RESPLINK_TRACE"`

	LogLevel  string `env:"RESPLINK_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"RESPLINK_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ClientOptions converts the config into options for client.New.
func (c *Config) ClientOptions(log *zap.Logger) (client.Options, error) {
	var policy backlog.Policy

	switch c.BacklogPolicy {
	case "always":
		policy = backlog.AlwaysRetry
	case "not-sent", "":
		policy = backlog.RetryIfNotSent
	default:
		return client.Options{}, fmt.Errorf("%q: %w", c.BacklogPolicy, ErrUnknownPolicy)
	}

	return client.Options{
		Addr:           c.Addr,
		Protocol:       c.Protocol,
		LockTimeout:    c.LockTimeout,
		CommandTimeout: c.CommandTimeout,
		BacklogMax:     c.BacklogMax,
		BacklogPolicy:  policy,
		RetryInterval:  c.RetryInterval,
		MaxFrameSize:   c.MaxFrameSize,
		ValidateWrites: c.ValidateWrites,
		Trace:          c.Trace,
		Log:            log,
	}, nil
}

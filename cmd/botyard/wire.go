package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zulandar/botyard/internal/config"
	"github.com/zulandar/botyard/internal/fleet"
	"github.com/zulandar/botyard/internal/paramstore"
	"github.com/zulandar/botyard/internal/state"
	"github.com/zulandar/botyard/internal/telegraph"
	"github.com/zulandar/botyard/internal/telegraph/discord"
	"github.com/zulandar/botyard/internal/telegraph/telegram"
	"gorm.io/gorm"
)

// adapterFactories builds platform adapters. Tests replace it.
var adapterFactories = func(log zerolog.Logger) map[string]fleet.AdapterFactory {
	return map[string]fleet.AdapterFactory{
		"telegram": func(token string) (telegraph.Adapter, error) {
			return telegram.New(telegram.AdapterOpts{Token: token, Logger: log})
		},
		"discord": func(token string) (telegraph.Adapter, error) {
			return discord.New(discord.AdapterOpts{BotToken: token, Logger: log})
		},
	}
}

func newManager(cfg *config.Config, gormDB *gorm.DB, log zerolog.Logger) (*fleet.Manager, error) {
	return fleet.NewManager(fleet.ManagerOpts{
		DB:          gormDB,
		Platform:    cfg.Platform,
		Factories:   adapterFactories(log),
		IdleTimeout: cfg.Fleet.WorkerIdle(),
		Logger:      log,
	})
}

// primaryToken resolves the operator bot token, reading SSM only when the
// config names a parameter.
func primaryToken(ctx context.Context, cfg config.PrimaryConfig) (string, error) {
	var getter paramstore.Getter
	if cfg.Token == "" && cfg.TokenParam != "" {
		client, err := paramstore.NewForRegion(ctx, cfg.Region)
		if err != nil {
			return "", err
		}
		getter = client
	}
	return paramstore.PrimaryToken(ctx, cfg, getter)
}

// openStateStore opens the configured conversation state backend. The
// returned func releases it.
func openStateStore(ctx context.Context, cfg config.StateConfig, log zerolog.Logger) (state.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		log.Warn().Msg("state: using in-memory store, conversation positions are lost on restart")
		return state.NewMemoryStore(), noop, nil

	case "redis":
		client, err := state.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		store, err := state.NewRedisStore(client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	case "badger":
		bdb, err := state.OpenBadger(cfg.Badger.Path, cfg.Badger.InMemory, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := state.NewBadgerStore(bdb)
		if err != nil {
			bdb.Close()
			return nil, nil, err
		}
		return store, bdb.Close, nil

	case "dynamodb":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.DynamoDB.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.DynamoDB.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, errors.Wrap(err, "state: load aws config")
		}
		store, err := state.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDB.Table)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	}
	return nil, nil, errors.Errorf("state: unsupported backend %q", cfg.Backend)
}

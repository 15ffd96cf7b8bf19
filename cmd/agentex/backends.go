package main

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/agentex/agentex-go/features/model/anthropic"
	"github.com/agentex/agentex-go/features/model/bedrock"
	"github.com/agentex/agentex-go/features/model/middleware"
	"github.com/agentex/agentex-go/features/model/openai"
	storemongo "github.com/agentex/agentex-go/features/store/mongo"
	clientsmongo "github.com/agentex/agentex-go/features/store/mongo/clients/mongo"
	streampulse "github.com/agentex/agentex-go/features/stream/pulse"
	clientspulse "github.com/agentex/agentex-go/features/stream/pulse/clients/pulse"
	streamredis "github.com/agentex/agentex-go/features/stream/redis"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// rateLimitMap names the Pulse replicated map holding shared model budgets.
const rateLimitMap = "agentex-ratelimit"

// backends holds the clients shared by the commands.
type backends struct {
	redis    *redis.Client
	mongo    *mongodriver.Client
	sink     stream.Sink
	streams  *stream.Service
	states   *storemongo.StateStore
	messages *storemongo.MessageStore
	model    provider.Model
	pingers  []health.Pinger
	closers  []func(context.Context) error
}

// connect dials Redis and MongoDB and builds the sink, stores and model
// described by cfg.
func connect(ctx context.Context, cfg *Config) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			err = errors.Join(err, b.close(ctx))
		}
	}()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b.redis = redis.NewClient(opt)
	b.closers = append(b.closers, func(context.Context) error { return b.redis.Close() })

	if err := b.connectSink(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.connectMongo(ctx, cfg); err != nil {
		return nil, err
	}
	b.streams, err = stream.NewService(stream.Options{Sink: b.sink, Store: b.messages, Logger: telemetry.NewClueLogger()})
	if err != nil {
		return nil, err
	}
	b.model, err = newModel(ctx, cfg, b.redis)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backends) connectSink(ctx context.Context, cfg *Config) error {
	logger := telemetry.NewClueLogger()
	switch cfg.Transport {
	case "pulse":
		client, err := clientspulse.New(clientspulse.Options{Redis: b.redis, StreamMaxLen: int(cfg.StreamMaxLen)})
		if err != nil {
			return err
		}
		streams, err := streampulse.NewStreams(streampulse.StreamsOptions{Client: client})
		if err != nil {
			return err
		}
		b.sink = streams.Sink()
		b.pingers = append(b.pingers, streams)
		b.closers = append(b.closers, streams.Close)
	default:
		sink, err := streamredis.NewSink(streamredis.Options{Client: b.redis, MaxLen: cfg.StreamMaxLen, Logger: logger})
		if err != nil {
			return err
		}
		b.sink = sink
		b.pingers = append(b.pingers, sink)
	}
	log.Debug(ctx, log.KV{K: "msg", V: "message transport ready"}, log.KV{K: "transport", V: cfg.Transport})
	return nil
}

func (b *backends) connectMongo(ctx context.Context, cfg *Config) error {
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	b.mongo = mc
	b.closers = append(b.closers, mc.Disconnect)

	client, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: cfg.MongoDatabase, Timeout: cfg.MongoTimeout})
	if err != nil {
		return fmt.Errorf("mongo store: %w", err)
	}
	b.pingers = append(b.pingers, client)
	if b.states, err = storemongo.NewStateStore(client); err != nil {
		return err
	}
	if b.messages, err = storemongo.NewMessageStore(client); err != nil {
		return err
	}
	return nil
}

// newModel builds the provider adapter, wrapped with the adaptive rate
// limiter when a budget is configured.
func newModel(ctx context.Context, cfg *Config, rdb *redis.Client) (provider.Model, error) {
	var (
		model provider.Model
		err   error
	)
	switch cfg.Provider {
	case "anthropic":
		model, err = anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.defaultModel())
	case "bedrock":
		model, err = newBedrockModel(ctx, cfg)
	default:
		model, err = openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.defaultModel())
	}
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", cfg.Provider, err)
	}
	if cfg.RateLimitTPM <= 0 {
		return model, nil
	}
	m, err := rmap.Join(ctx, rateLimitMap, rdb)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "rate limit map unavailable, limiting locally"})
	}
	key := cfg.Provider + ":" + cfg.defaultModel()
	limiter := middleware.NewAdaptiveRateLimiter(ctx, m, key, cfg.RateLimitTPM, cfg.RateLimitMaxTPM)
	return limiter.Middleware()(model), nil
}

// newBedrockModel loads the AWS configuration from the default credential
// chain.
func newBedrockModel(ctx context.Context, cfg *Config) (*bedrock.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrock.NewFromConfig(awsCfg, cfg.defaultModel())
}

// check pings every backend.
func (b *backends) check(ctx context.Context) (*health.Health, bool) {
	return health.NewChecker(b.pingers...).Check(ctx)
}

func (b *backends) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

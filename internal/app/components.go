package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/config"
	"github.com/nosurfing/moderation/internal/mlclient"
	"github.com/nosurfing/moderation/internal/moderation"
	"github.com/nosurfing/moderation/internal/ratelimit"
)

const redisPingTimeout = 5 * time.Second

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// NewClassifier returns the external classifier, or nil when no API key is
// configured.
func NewClassifier(cfg config.ClassifierConfig) *mlclient.Client {
	if cfg.APIKey == "" {
		return nil
	}
	return mlclient.NewClient(mlclient.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
}

// NewModerator assembles the screening pipeline: the built-in dictionary
// plus the configured terms file and extra terms, the rule engine, and the
// classifier when one is configured.
func NewModerator(cfg config.Config, log *zap.Logger) (*moderation.Moderator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	terms := moderation.DefaultProfanity()
	if path := cfg.Moderation.ProfanityFile; path != "" {
		extra, err := moderation.LoadTermsFile(path)
		if err != nil {
			return nil, err
		}
		terms = append(terms, extra...)
	}
	terms = append(terms, cfg.Moderation.ExtraProfanity...)
	filter := moderation.NewFilterWithTerms(terms)

	rules := moderation.NewRuleEngine(moderation.RuleConfig{
		ExtremeViolence: cfg.Moderation.ExtremeViolence,
		HarmfulToMinors: cfg.Moderation.HarmfulToMinors,
	})

	var classifier moderation.Classifier
	if c := NewClassifier(cfg.Classifier); c != nil {
		classifier = c
	}

	log.Info("moderation pipeline ready",
		zap.Int("dictionary_terms", filter.Size()),
		zap.Bool("classifier_enabled", classifier != nil),
	)

	return moderation.NewModerator(moderation.Config{ClassifierTimeout: cfg.Classifier.Timeout},
		filter, rules, classifier, log), nil
}

// NewLimiter returns an Allower enforcing budget requests per rule window,
// shared through Redis when distributed. A zero budget disables limiting
// and returns nil.
func NewLimiter(rdb *redis.Client, distributed bool, rule ratelimit.Rule, budget int, log *zap.Logger) ratelimit.Allower {
	if budget <= 0 {
		return nil
	}
	rule.Limit = budget
	if distributed && rdb != nil {
		return ratelimit.NewLimiter(rdb, log).For(rule)
	}
	return ratelimit.NewLocalLimiter(rule, nil)
}

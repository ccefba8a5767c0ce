package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-entities/internal/governance"
	"github.com/polisai/polis-entities/pkg/config"
	"github.com/polisai/polis-entities/pkg/engine"
	"github.com/polisai/polis-entities/pkg/nlp"
	"github.com/polisai/polis-entities/pkg/recognizer"
	"github.com/polisai/polis-entities/pkg/storage"
)

// processorBuilder turns configurations into processors sharing one store
// and one set of circuit breakers across reloads.
type processorBuilder struct {
	store    storage.DocumentStore
	breakers *governance.BreakerSet
	logger   *slog.Logger
}

func newProcessorBuilder(store storage.DocumentStore, logger *slog.Logger) *processorBuilder {
	return &processorBuilder{
		store:    store,
		breakers: governance.NewBreakerSet(governance.DefaultBreakerConfig()),
		logger:   logger,
	}
}

// Build creates a processor for cfg.
func (b *processorBuilder) Build(cfg *config.Config) (*engine.Processor, error) {
	opts := engine.Options{Config: cfg.Processor, Logger: b.logger}

	switch strings.ToLower(cfg.Processor.WithDefaults().Engine) {
	case engine.EngineLocal:
		scanner, err := buildScanner(cfg.Local)
		if err != nil {
			return nil, err
		}
		opts.Clients = nlp.LocalFactory(scanner, b.store)
	default:
		opts.Clients = nlp.HTTPFactory(nlp.HTTPOptions{
			Timeout:  cfg.Processor.Timeout,
			Retries:  cfg.Processor.Retries,
			Breakers: b.breakers,
		})
	}

	return engine.NewProcessor(opts)
}

// buildScanner combines the enabled builtin rules with the custom ones.
func buildScanner(cfg config.LocalConfig) (*recognizer.Scanner, error) {
	registry := recognizer.GlobalRegistry()
	rules, err := registry.Select(cfg.Enabled)
	if err != nil {
		return nil, fmt.Errorf("local engine: %w", err)
	}
	rules = append(rules, cfg.Rules...)

	scanner, err := recognizer.NewScanner(recognizer.Config{Rules: rules})
	if err != nil {
		return nil, fmt.Errorf("local engine: %w", err)
	}
	return scanner, nil
}

// SPDX-License-Identifier: MIT

package router

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadRulesFile parses a YAML rule table. Task types absent from the file
// keep their built-in defaults.
func LoadRulesFile(path string) (RoutingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var loaded RoutingRules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := DefaultRules()
	for task, rule := range loaded {
		rules[task] = rule
	}
	return rules, nil
}

// WatchRulesFile applies the rules file now and re-applies it on every
// write until ctx is cancelled. A failed reload keeps the previous table.
func (r *Router) WatchRulesFile(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		return err
	}
	r.SetRoutingRules(rules)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch rules file: %w", err)
	}

	r.logger.Info().Str("path", path).Msg("watching routing rules file")
	go r.watchLoop(ctx, watcher, path)
	return nil
}

func (r *Router) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer func() { _ = watcher.Close() }()

	// Debounce so editors that write in bursts trigger one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				rules, err := LoadRulesFile(path)
				if err != nil {
					r.logger.Error().Err(err).Str("path", path).Msg("rules reload failed, keeping previous table")
					return
				}
				r.SetRoutingRules(rules)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("rules watcher error")
		}
	}
}

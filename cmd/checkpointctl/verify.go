package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/session"
)

type checkpointHealth string

const (
	healthFresh   checkpointHealth = "fresh"
	healthStale   checkpointHealth = "stale"
	healthCorrupt checkpointHealth = "corrupt"
)

// assess classifies a stored checkpoint the same way a session opening it would.
func assess(key string, raw []byte, now time.Time, window time.Duration) (checkpointHealth, error) {
	_, studentID, err := config.CacheKey.ParseCheckpointKey(key)
	if err != nil {
		return healthCorrupt, err
	}
	cp, err := session.DecodeCheckpoint(raw, nil, studentID)
	if err != nil {
		return healthCorrupt, err
	}
	if cp.CandidateID != studentID {
		return healthCorrupt, fmt.Errorf("stored under student %d but belongs to %d", studentID, cp.CandidateID)
	}
	if cp.FromFuture(now) {
		return healthCorrupt, fmt.Errorf("dated %s, in the future", cp.Timestamp.Format(time.RFC3339))
	}
	if !cp.IsFresh(now, window) {
		return healthStale, nil
	}
	return healthFresh, nil
}

type scanReport struct {
	counts  map[checkpointHealth]int
	corrupt []string
	stale   []string
}

func scanLocal(ctx context.Context, cache *repository.CheckpointCache, now time.Time, window time.Duration, report func(key string, h checkpointHealth, err error)) (*scanReport, error) {
	r := &scanReport{counts: make(map[checkpointHealth]int)}
	err := cache.Each(ctx, func(key string) error {
		raw, err := cache.GetKey(ctx, key)
		if err != nil {
			// Expired between SCAN and GET.
			return nil
		}
		h, herr := assess(key, raw, now, window)
		r.counts[h]++
		switch h {
		case healthCorrupt:
			r.corrupt = append(r.corrupt, key)
		case healthStale:
			r.stale = append(r.stale, key)
		}
		if report != nil {
			report(key, h, herr)
		}
		return nil
	})
	return r, err
}

func newVerifyCmd(e *env) *cobra.Command {
	var quiet bool
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every Redis checkpoint for integrity and freshness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := e.connect(ctx, false); err != nil {
				return err
			}

			r, err := scanLocal(ctx, e.cache, time.Now(), e.cfg.RecoveryWindow, func(key string, h checkpointHealth, err error) {
				if quiet || h == healthFresh {
					return
				}
				if err != nil {
					fmt.Printf("%-8s %s: %v\n", h, key, err)
					return
				}
				fmt.Printf("%-8s %s\n", h, key)
			})
			if err != nil {
				return err
			}

			fmt.Printf("fresh=%d stale=%d corrupt=%d\n",
				r.counts[healthFresh], r.counts[healthStale], r.counts[healthCorrupt])
			if r.counts[healthCorrupt] > 0 {
				os.Exit(3)
			}
			return nil
		},
	}
}

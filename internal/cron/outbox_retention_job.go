package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

const (
	publishedRetentionDays  = 30
	deadLetterRetentionDays = 90
	defaultPruneBatch       = 500
)

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Outbox      publishedPruner
	DeadLetters deadLetterPruner
	// PublishedDays and DeadLetterDays fall back to 30 and 90.
	PublishedDays  int
	DeadLetterDays int
	BatchSize      int
}

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// pruneTarget is one table the job trims, oldest rows first.
type pruneTarget struct {
	table string
	days  int
	prune func(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type outboxRetentionJob struct {
	logg    *logger.Logger
	db      txRunner
	targets []pruneTarget
	batch   int
	now     func() time.Time
}

// NewOutboxRetentionJob trims published outbox rows and, when DeadLetters is
// set, old dead letters. Unpublished rows are never touched. Each chunk of
// BatchSize rows is deleted in its own transaction so the table is never
// locked for the whole sweep.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}

	targets := []pruneTarget{{
		table: "outbox_events",
		days:  orDefault(params.PublishedDays, publishedRetentionDays),
		prune: params.Outbox.DeletePublishedBefore,
	}}
	if params.DeadLetters != nil {
		targets = append(targets, pruneTarget{
			table: "outbox_dlq",
			days:  orDefault(params.DeadLetterDays, deadLetterRetentionDays),
			prune: params.DeadLetters.DeleteFailedBefore,
		})
	}

	return &outboxRetentionJob{
		logg:    params.Logger,
		db:      params.DB,
		targets: targets,
		batch:   orDefault(params.BatchSize, defaultPruneBatch),
		now:     time.Now,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	for _, target := range j.targets {
		cutoff := now.AddDate(0, 0, -target.days)
		deleted, err := j.sweep(ctx, target, cutoff)
		fields := map[string]any{
			"table":          target.table,
			"cutoff":         cutoff,
			"retention_days": target.days,
			"rows_deleted":   deleted,
		}
		if err != nil {
			j.logg.Error(j.logg.WithFields(ctx, fields), "retention sweep aborted", err)
			return err
		}
		j.logg.Info(j.logg.WithFields(ctx, fields), "retention sweep complete")
	}
	return nil
}

// sweep deletes chunks until one comes back short.
func (j *outboxRetentionJob) sweep(ctx context.Context, target pruneTarget, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = target.prune(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			return total, nil
		}
	}
}

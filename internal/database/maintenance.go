package database

import (
	"context"
	"sync"
	"time"
)

// PurgeJobsOlderThan deletes job history rows older than retention.
func (db *DB) PurgeJobsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM caption_jobs WHERE created_at < $1`,
		time.Now().Add(-retention),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Maintenance purges expired job history on an interval.
type Maintenance struct {
	db        *DB
	retention time.Duration
	interval  time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMaintenance creates a purge loop. A non-positive retention disables it.
func NewMaintenance(db *DB, retention time.Duration) *Maintenance {
	return &Maintenance{
		db:        db,
		retention: retention,
		interval:  6 * time.Hour,
		stop:      make(chan struct{}),
	}
}

func (m *Maintenance) Start() {
	if m.retention <= 0 {
		return
	}
	go m.loop()
}

func (m *Maintenance) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Maintenance) loop() {
	m.run()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.run()
		case <-m.stop:
			return
		}
	}
}

func (m *Maintenance) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := m.db.PurgeJobsOlderThan(ctx, m.retention)
	if err != nil {
		m.db.log.Warn().Err(err).Msg("job history purge failed")
		return
	}
	if n > 0 {
		m.db.log.Info().Int64("deleted", n).Dur("retention", m.retention).Msg("job history purged")
	}
}

package store

import (
	"context"
	"time"

	"github.com/juju/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-hotspot/db"
)

// EnqueueJob inserts j unless a live job with the same unique key exists.
// A finished or failed job under that key is reset and queued again. It
// reports whether a job was scheduled.
func (s *Store) EnqueueJob(ctx context.Context, j *db.Job) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "unique_key"}}, DoNothing: true}).
		Create(j)
	if res.Error != nil {
		return false, errors.Annotatef(res.Error, "enqueueing job %s", j.UniqueKey)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = s.db.WithContext(ctx).Model(&db.Job{}).
		Where("unique_key = ? AND status IN ?", j.UniqueKey, []db.JobStatus{db.JobDone, db.JobFailed}).
		Updates(map[string]any{
			"status":       j.Status,
			"attempts":     0,
			"max_attempts": j.MaxAttempts,
			"run_at":       j.RunAt,
			"deadline":     j.Deadline,
			"locked_until": nil,
			"locked_by":    "",
			"last_error":   "",
			"finished_at":  nil,
		})
	if res.Error != nil {
		return false, errors.Annotatef(res.Error, "requeueing job %s", j.UniqueKey)
	}
	return res.RowsAffected == 1, nil
}

// ClaimJob leases the next runnable job to owner. Jobs whose lease ran out
// while running are claimable again. Returns nil when nothing is due.
func (s *Store) ClaimJob(ctx context.Context, now time.Time, lease time.Duration, owner string) (*db.Job, error) {
	var claimed *db.Job
	err := s.Transaction(ctx, func(tx *Store) error {
		var j db.Job
		err := tx.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND run_at <= ?) OR (status = ? AND locked_until < ?)",
				db.JobQueued, now, db.JobRunning, now).
			Order("run_at, id").
			Take(&j).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}

		until := now.Add(lease)
		j.Status = db.JobRunning
		j.Attempts++
		j.LockedUntil = &until
		j.LockedBy = owner
		if err := tx.db.WithContext(ctx).Save(&j).Error; err != nil {
			return errors.Trace(err)
		}
		claimed = &j
		return nil
	})
	return claimed, err
}

func (s *Store) SaveJob(ctx context.Context, j *db.Job) error {
	return translate(s.db.WithContext(ctx).Save(j).Error, "job", j.ID)
}

func (s *Store) JobByKey(ctx context.Context, key string) (*db.Job, error) {
	var j db.Job
	err := s.db.WithContext(ctx).Where("unique_key = ?", key).First(&j).Error
	return &j, translate(err, "job", key)
}

func (s *Store) JobsByStatus(ctx context.Context, tenant string, status db.JobStatus) ([]db.Job, error) {
	var out []db.Job
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND status = ?", tenant, status).Order("id").Find(&out).Error
	return out, errors.Trace(err)
}

func (s *Store) CreateAlert(ctx context.Context, a *db.Alert) error {
	return errors.Trace(s.db.WithContext(ctx).Create(a).Error)
}

func (s *Store) Alerts(ctx context.Context, tenant string) ([]db.Alert, error) {
	var out []db.Alert
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenant).Order("id").Find(&out).Error
	return out, errors.Trace(err)
}

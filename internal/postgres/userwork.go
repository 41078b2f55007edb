package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
)

// Get reads the materialised (owner, serviceImage) view, returning a
// zero-valued UserWork (never-worked epoch) if no row exists yet.
func (s *Store) Get(ctx context.Context, owner, serviceImage string) (*models.UserWork, error) {
	row := s.db.QueryRow(ctx, `
		SELECT owner, service_image, ready_count, running_count, last_worked_at
		FROM user_work WHERE owner=$1 AND service_image=$2`, owner, serviceImage)

	var uw models.UserWork
	err := row.Scan(&uw.Owner, &uw.ServiceImage, &uw.ReadyCount, &uw.RunningCount, &uw.LastWorkedAt)
	if err == pgx.ErrNoRows {
		return &models.UserWork{Owner: owner, ServiceImage: serviceImage}, nil
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to read user work for %s/%s", owner, serviceImage)
	}
	return &uw, nil
}

// TouchLastWorkedAt stamps (owner, serviceImage).lastWorkedAt = at,
// creating the row if absent.
func (s *Store) TouchLastWorkedAt(ctx context.Context, owner, serviceImage string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_work (owner, service_image, last_worked_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (owner, service_image) DO UPDATE SET last_worked_at = $3`,
		owner, serviceImage, at)
	if err != nil {
		return apperrors.Server(err, "failed to touch last worked at for %s/%s", owner, serviceImage)
	}
	return nil
}

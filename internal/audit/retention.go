package audit

import (
	"context"
	"fmt"
)

// MinRetentionDays is the floor for audit retention. Purges below it are
// refused so a misconfigured cleanup cannot erase the evidence an incident
// review depends on.
const MinRetentionDays = 90

func CheckRetention(days int) error {
	if days < MinRetentionDays {
		return fmt.Errorf("audit retention must be at least %d days (requested %d)", MinRetentionDays, days)
	}
	return nil
}

// PurgeOlderThan removes entries past the retention horizon and reports how
// many went.
func (s *Service) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if err := CheckRetention(days); err != nil {
		return 0, err
	}
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

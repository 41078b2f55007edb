package models

import "time"

// UserWork is the materialised, process-wide view the Dispatcher selects
// against: per (owner, serviceImage), the count of ready and running items
// and the timestamp of the last item leased to that owner for that image.
// Maintained exclusively by the Progress Engine and the Dispatcher/Pool
// under transactional guards — never derived ad hoc by a full table scan.
type UserWork struct {
	Owner         string    `json:"owner" db:"owner"`
	ServiceImage  string    `json:"service_image" db:"service_image"`
	ReadyCount    int       `json:"ready_count" db:"ready_count"`
	RunningCount  int       `json:"running_count" db:"running_count"`
	LastWorkedAt  time.Time `json:"last_worked_at" db:"last_worked_at"`
}

// NeverWorked reports whether this owner has never been dispatched an item
// for this service image, treated as the fair-queueing epoch (oldest
// possible lastWorkedAt, see §4.3 tie-break rule 2).
func (u *UserWork) NeverWorked() bool {
	return u.LastWorkedAt.IsZero()
}

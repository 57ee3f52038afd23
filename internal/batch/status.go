package batch

// Status is the aggregate state of a batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the batch will not change status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ChildStatus is the state of one child execution. Transitions only move
// forward: pending, running, then one of the terminal states.
type ChildStatus string

const (
	ChildPending   ChildStatus = "pending"
	ChildRunning   ChildStatus = "running"
	ChildCompleted ChildStatus = "completed"
	ChildFailed    ChildStatus = "failed"
	ChildCancelled ChildStatus = "cancelled"
)

func (s ChildStatus) Terminal() bool {
	return s == ChildCompleted || s == ChildFailed || s == ChildCancelled
}

// Counts tallies children by status.
type Counts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

func (c Counts) Total() int {
	return c.Pending + c.Running + c.Completed + c.Failed + c.Cancelled
}

// Add records one child in status s.
func (c *Counts) Add(s ChildStatus, n int) {
	switch s {
	case ChildPending:
		c.Pending += n
	case ChildRunning:
		c.Running += n
	case ChildCompleted:
		c.Completed += n
	case ChildFailed:
		c.Failed += n
	case ChildCancelled:
		c.Cancelled += n
	}
}

// Derive computes the batch status from its children. The rules apply in
// order; the first match wins.
func Derive(c Counts, cancelRequested bool) Status {
	switch {
	case cancelRequested:
		return StatusCancelled
	case c.Total() == 0:
		return StatusPending
	case c.Pending > 0 || c.Running > 0:
		return StatusRunning
	case c.Completed == c.Total():
		return StatusCompleted
	case c.Failed == c.Total():
		return StatusFailed
	default:
		return StatusPartial
	}
}

package model

import "time"

// PriorityTask wraps a CopyTask with an ordering key. Ordering is priority
// descending, then CreationTime ascending (FIFO tie-break).
type PriorityTask struct {
	Priority     int
	CreationTime time.Time
	Device       *Device
	Task         CopyTask
}

// CopyTask is the unit of work submitted to the copy executor: the source
// path to mirror and the serial of the device it came from.
type CopyTask struct {
	SourcePath   string
	DeviceSerial string
	IsDir        bool
}

// clampPriority clamps p to [0,100].
func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// NewPriorityTask builds a PriorityTask, clamping priority into [0,100].
func NewPriorityTask(task CopyTask, priority int, device *Device, created time.Time) PriorityTask {
	return PriorityTask{
		Priority:     clampPriority(priority),
		CreationTime: created,
		Device:       device,
		Task:         task,
	}
}

// Less implements the spec's ordering: higher priority first, then earlier
// creation time. It is the comparator used by the scheduler's priority
// queue.
func (t PriorityTask) Less(other PriorityTask) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.CreationTime.Before(other.CreationTime)
}

package connect

// Task is the lifecycle every connector task shares. The runtime calls Start
// once, then the task-specific work method repeatedly, then Stop once.
type Task interface {
	Version() string
	Start(props map[string]string) error
	Stop() error
}

// SourceTask pulls records from an external system. Poll must not block for
// long; returning no records and a nil error means nothing was available.
type SourceTask interface {
	Task
	Poll() ([]*SourceRecord, error)
}

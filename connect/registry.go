package connect

import "fmt"

// SourceTaskFactory builds a fresh, unstarted task.
type SourceTaskFactory func() SourceTask

var sourceTasks = map[string]SourceTaskFactory{}

// RegisterSourceTask is called from each task package's init().
func RegisterSourceTask(class string, f SourceTaskFactory) {
	sourceTasks[class] = f
}

func NewSourceTask(class string) (SourceTask, error) {
	if f, ok := sourceTasks[class]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("connect: unknown source task class %q", class)
}

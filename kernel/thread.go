package kernel

import "fmt"

// A Thread is the owner of processes and open files. Ownership is by
// identity, two threads with the same name are different owners.
type Thread struct {
	name string
}

// NewThread creates a thread.
func NewThread(name string) *Thread {
	return &Thread{name: name}
}

// Name returns the name of the thread.
func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %s", t.name)
}

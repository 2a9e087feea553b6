package schema

// Event type constants for the live trace published on the event hub.
const (
	EventExecutionStarted  = "execution_started"
	EventNodeExecuted      = "node_executed"
	EventExecutionPaused   = "execution_paused"
	EventExecutionResumed  = "execution_resumed"
	EventExecutionFinished = "execution_finished"
	EventExecutionFailed   = "execution_failed"
	EventExecutionReset    = "execution_reset"

	EventGraphMutated = "graph_mutated"

	EventTestcaseStarted   = "testcase_started"
	EventTestcaseCompleted = "testcase_completed"
	EventSessionCompleted  = "session_completed"

	EventSnapshotsPurged = "snapshots_purged"
)

// ExecutionStatus represents the lifecycle state of an executor.
type ExecutionStatus string

const (
	ExecutionStatusRunning  ExecutionStatus = "running"
	ExecutionStatusPaused   ExecutionStatus = "paused"
	ExecutionStatusFinished ExecutionStatus = "finished"
	ExecutionStatusFailed   ExecutionStatus = "failed"
)

// Terminal reports whether no further step can change the status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusFinished || s == ExecutionStatusFailed
}

// TestStatus is the outcome of a single graded testcase.
type TestStatus string

const (
	TestStatusPass         TestStatus = "PASS"
	TestStatusFail         TestStatus = "FAIL"
	TestStatusError        TestStatus = "ERROR"
	TestStatusInputMissing TestStatus = "INPUT_MISSING"
)

package temporal

import (
	"context"
	"sync"
)

// MockReconciler is a mock implementation of Reconciler for testing.
type MockReconciler struct {
	mu       sync.Mutex
	started  map[string]ReconcileInput // map[workflowID]input
	startErr error
}

// NewMockReconciler creates a new MockReconciler.
func NewMockReconciler() *MockReconciler {
	return &MockReconciler{
		started: make(map[string]ReconcileInput),
	}
}

// StartReconcile records that a workflow was started.
func (m *MockReconciler) StartReconcile(ctx context.Context, input ReconcileInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	m.started[workflowID(input.Signature)] = input
	return nil
}

// Started returns the input for a signature and whether it was started.
func (m *MockReconciler) Started(signature string) (ReconcileInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	input, ok := m.started[workflowID(signature)]
	return input, ok
}

// Count returns how many distinct workflows were started.
func (m *MockReconciler) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.started)
}

// SetStartError configures the mock to fail StartReconcile.
func (m *MockReconciler) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

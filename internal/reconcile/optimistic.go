package reconcile

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Состояния оптимистичного действия. Откат при ошибке — один
// определенный переход, а не набор ad hoc флагов.
type OptimisticState int

const (
	StatePending OptimisticState = iota
	StateConfirmed
	StateRolledBack
)

func (s OptimisticState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// OptimisticAction отслеживает одно локальное действие (отправку с
// временным id) до подтверждения сервером либо отката.
type OptimisticAction struct {
	TempID uuid.UUID

	mu    sync.Mutex
	state OptimisticState
}

func NewOptimisticAction(tempID uuid.UUID) *OptimisticAction {
	return &OptimisticAction{TempID: tempID, state: StatePending}
}

func (a *OptimisticAction) State() OptimisticState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *OptimisticAction) Confirm() error {
	return a.transition(StateConfirmed)
}

func (a *OptimisticAction) Rollback() error {
	return a.transition(StateRolledBack)
}

func (a *OptimisticAction) transition(to OptimisticState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StatePending {
		return fmt.Errorf("optimistic action %s is %s, cannot become %s", a.TempID, a.state, to)
	}
	a.state = to
	return nil
}

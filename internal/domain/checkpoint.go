package domain

import (
	"github.com/google/uuid"
)

// CheckpointVersion — текущая версия формата checkpoint.
// Checkpoint читается только тем же major-версией orchestrator'а,
// которая его записала.
const CheckpointVersion = 1

// Checkpoint — сериализованный прогресс оркестрации одного request.
//
// Записывается orchestrator'ом перед каждым значимым шагом (write-ahead):
// план — до диспетчеризации, каждая диспетчеризация — до публикации
// следующей. После падения orchestrator восстанавливает состояние из
// checkpoint + task store и продолжает с последней фазы.
type Checkpoint struct {
	// Version — версия формата.
	Version int `json:"version"`

	// Phase — последняя достигнутая фаза обработки.
	Phase Phase `json:"phase"`

	// Plan — план назначений (заполняется после PLANNING).
	Plan *Plan `json:"plan,omitempty"`

	// Dispatched — ID задач, публикация которых подтверждена.
	// Resumption досылает только задачи вне этого набора.
	Dispatched []uuid.UUID `json:"dispatched,omitempty"`
}

// NewCheckpoint создаёт checkpoint начальной фазы.
func NewCheckpoint() *Checkpoint {
	return &Checkpoint{
		Version: CheckpointVersion,
		Phase:   PhasePlanning,
	}
}

// IsDispatched проверяет, подтверждена ли публикация задачи.
func (c *Checkpoint) IsDispatched(taskID uuid.UUID) bool {
	for _, id := range c.Dispatched {
		if id == taskID {
			return true
		}
	}
	return false
}

// RecordDispatch отмечает задачу как диспетчеризованную.
func (c *Checkpoint) RecordDispatch(taskID uuid.UUID) {
	if c.IsDispatched(taskID) {
		return
	}
	c.Dispatched = append(c.Dispatched, taskID)
}

package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRequestNotFound — request не найден в БД.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestNotClaimable — request нельзя забрать в обработку
	// (уже терминален, или lease держит другой orchestrator).
	ErrRequestNotClaimable = errors.New("request not claimable")

	// ErrRequestAlreadyActive — request уже обрабатывается этим процессом.
	ErrRequestAlreadyActive = errors.New("request already being processed")

	// ErrCheckpointVersion — формат checkpoint несовместим с этой версией.
	ErrCheckpointVersion = errors.New("incompatible checkpoint version")

	// ErrTaskNotFound — задача не найдена.
	ErrTaskNotFound = errors.New("task not found")

	// ErrProposalNotExecutable — proposal нельзя выполнить
	// (не одобрен или уже выполняется).
	ErrProposalNotExecutable = errors.New("proposal not executable")
)

package module

import "sluice/internal/services/pipeline/domain"

// Ports defines pipeline module ports exposed via the registry
type Ports struct {
	Runner domain.RunnerPort
}

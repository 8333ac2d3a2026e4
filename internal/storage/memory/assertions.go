package memory

import (
	"github.com/tinoosan/settlements/internal/service/expense"
	"github.com/tinoosan/settlements/internal/service/project"
	"github.com/tinoosan/settlements/internal/service/settlement"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ settlement.Repo   = (*Store)(nil)
	_ settlement.Writer = (*Store)(nil)
	_ project.Repo      = (*Store)(nil)
	_ project.Writer    = (*Store)(nil)
	_ expense.Repo      = (*Store)(nil)
	_ expense.Writer    = (*Store)(nil)
)

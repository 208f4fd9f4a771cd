package abuseshield

import (
	"github.com/yourusername/abuseshield/pkg/abuseshield"
)

// Re-export main types for convenience
type (
	Config         = abuseshield.Config
	Engine         = abuseshield.Engine
	Gate           = abuseshield.Gate
	Decision       = abuseshield.Decision
	RequestContext = abuseshield.RequestContext
	IdentityFunc   = abuseshield.IdentityFunc
)

// NewConfig creates a configuration with the stock class table.
var NewConfig = abuseshield.NewConfig

// NewEngine builds a decision engine.
var NewEngine = abuseshield.NewEngine

// NewGate wraps an engine in HTTP middleware.
var NewGate = abuseshield.NewGate

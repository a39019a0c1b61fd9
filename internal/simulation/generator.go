// Package simulation synthesizes sensor values, scores them and drives the
// periodic tick across all active machines.
package simulation

import (
	"math/rand/v2"
	"sync"

	"telemetry-service/internal/models"
)

const (
	normalNoise          = 0.02
	maintenanceDriftProb = 0.4
	maintenanceDriftLow  = 0.15
	maintenanceDriftHigh = 0.35
	sabotageExtremeProb  = 0.8
	sabotageBand         = 0.15
	shutdownIdle         = 0.05
)

// Generator produces one value per sensor per tick. It is safe for
// concurrent use; the underlying source is guarded by a mutex.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a Generator seeded from the runtime's entropy.
func NewGenerator() *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededGenerator returns a deterministic Generator.
func NewSeededGenerator(seed uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate returns a value within [def.Min, def.Max] shaped by mode.
func (g *Generator) Generate(def models.SensorDefinition, mode models.MachineMode) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var v float64
	switch mode {
	case models.ModeShutdown:
		return def.Min + shutdownIdle*def.Span()
	case models.ModeMaintenance:
		v = g.uniform(def.NormalLow, def.NormalHigh)
		if g.rnd.Float64() < maintenanceDriftProb {
			drift := g.uniform(maintenanceDriftLow, maintenanceDriftHigh) * def.NormalWidth()
			if g.rnd.IntN(2) == 0 {
				drift = -drift
			}
			v += drift
		}
	case models.ModeSabotage:
		if g.rnd.Float64() < sabotageExtremeProb {
			if g.rnd.IntN(2) == 0 {
				v = g.uniform(def.Max*(1-sabotageBand), def.Max)
			} else {
				v = g.uniform(def.Min, def.Min+sabotageBand*def.Span())
			}
		} else {
			v = g.uniform(def.NormalLow, def.NormalHigh)
		}
	default:
		base := g.uniform(def.NormalLow, def.NormalHigh)
		v = base * (1 + g.uniform(-normalNoise, normalNoise))
	}
	return clamp(v, def.Min, def.Max)
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rnd.Float64()*(hi-lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package media

import (
	"math/rand/v2"
	"sync/atomic"
)

// Strategy picks the worker index for the next router out of n > 0.
type Strategy interface {
	Pick(n int) int
}

// RandomStrategy picks uniformly at random. It is a placeholder load
// balancer and promises nothing about fairness.
type RandomStrategy struct{}

func (RandomStrategy) Pick(n int) int { return rand.IntN(n) }

type RoundRobinStrategy struct {
	next atomic.Uint64
}

func (s *RoundRobinStrategy) Pick(n int) int {
	return int((s.next.Add(1) - 1) % uint64(n))
}

// StrategyFor maps media.strategy to a Strategy; unknown names get random.
func StrategyFor(name string) Strategy {
	if name == "round_robin" {
		return &RoundRobinStrategy{}
	}
	return RandomStrategy{}
}

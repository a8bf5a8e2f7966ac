package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Strategy turns an ordered candle history into a directional signal and a
// confidence in [0,1]. Implementations are stateless over the history they get.
type Strategy interface {
	Name() string
	GenerateSignal(candles []Candle) Signal
	Confidence(candles []Candle) float64
}

// StrategyFactory builds a strategy from numeric parameters. Missing keys
// fall back to the strategy defaults.
type StrategyFactory func(params map[string]float64) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]StrategyFactory{}
)

func init() {
	RegisterStrategy("rsi", newRSIFromParams)
	RegisterStrategy("macd", newMACDFromParams)
	RegisterStrategy("ensemble", newEnsembleFromParams)
}

// RegisterStrategy adds or replaces a strategy kind
func RegisterStrategy(kind string, factory StrategyFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(kind)] = factory
}

// NewStrategy builds a registered strategy kind
func NewStrategy(kind string, params map[string]float64) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(strings.TrimSpace(kind))]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrInvalidParameter.WithDetails(fmt.Sprintf("unknown strategy %q (known: %s)", kind, strings.Join(StrategyKinds(), ", ")))
	}
	return factory(params)
}

// StrategyKinds lists the registered kinds in sorted order
func StrategyKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func intParam(params map[string]float64, key string, def int) (int, error) {
	v := param(params, key, float64(def))
	if v < 1 || v != float64(int(v)) {
		return 0, ErrInvalidParameter.WithDetails(fmt.Sprintf("%s must be a positive integer, got %v", key, v))
	}
	return int(v), nil
}

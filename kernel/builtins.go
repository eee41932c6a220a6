package kernel

import (
	"math"
	"math/rand"
)

// builtin is one entry of the fixed math function allow-list.
type builtin struct {
	arity int
	fn    func(args []float64) float64
}

var mathBuiltins = map[string]builtin{
	"fabs":  {1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"fmin":  {2, func(a []float64) float64 { return math.Min(a[0], a[1]) }},
	"fmax":  {2, func(a []float64) float64 { return math.Max(a[0], a[1]) }},
	"fmod":  {2, func(a []float64) float64 { return math.Mod(a[0], a[1]) }},
	"pow":   {2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }},
	"sqrt":  {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"exp":   {1, func(a []float64) float64 { return math.Exp(a[0]) }},
	"log":   {1, func(a []float64) float64 { return math.Log(a[0]) }},
	"sin":   {1, func(a []float64) float64 { return math.Sin(a[0]) }},
	"cos":   {1, func(a []float64) float64 { return math.Cos(a[0]) }},
	"tan":   {1, func(a []float64) float64 { return math.Tan(a[0]) }},
	"floor": {1, func(a []float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {1, func(a []float64) float64 { return math.Ceil(a[0]) }},
}

// randBuiltins is the dedicated random-number source: an explicit seeded
// handle threaded through the evaluation context, never a package-level
// singleton. Both backends consume draws in source order, which keeps
// compiled and interpreted trajectories identical for a fixed seed.
var randBuiltins = map[string]int{
	"random":  0, // rand.random() in [0, 1)
	"uniform": 2, // rand.uniform(lo, hi)
	"normal":  2, // rand.normal(mean, stddev)
}

func evalRand(fn string, rng *rand.Rand, args []float64) float64 {
	switch fn {
	case "random":
		return rng.Float64()
	case "uniform":
		return args[0] + rng.Float64()*(args[1]-args[0])
	case "normal":
		return args[0] + rng.NormFloat64()*args[1]
	}
	// Unreachable: the validator only admits the names above.
	panic("kernel: unknown rand builtin " + fn)
}

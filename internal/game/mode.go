// internal/game/mode.go
package game

import "time"

// UnitType identifies a spawnable unit.
type UnitType string

const (
	UnitMiner   UnitType = "miner"
	UnitSoldier UnitType = "soldier"
	UnitArcher  UnitType = "archer"
	UnitTank    UnitType = "tank"
)

// SpeedFactor is the slack multiplier applied to a unit's table speed when
// validating client movement. Allows for tick jitter without trusting the
// client outright.
const SpeedFactor = 1.25

// UnitStats holds the table-defined numbers for one unit type. Units copy
// these at spawn time and never re-read the table, so a mode can never be
// rebalanced under a running match.
type UnitStats struct {
	Cost   int
	Health int
	Damage int
	Speed  float64
}

// Mode carries the full economy and combat table for one game mode.
type Mode struct {
	Name           string
	StartingGold   int
	BaseIncome     int
	MinerBonus     int
	IncomeInterval time.Duration
	BaseHealth     int
	Units          map[UnitType]UnitStats
}

var classicUnits = map[UnitType]UnitStats{
	UnitMiner:   {Cost: 100, Health: 60, Damage: 5, Speed: 0.8},
	UnitSoldier: {Cost: 150, Health: 200, Damage: 20, Speed: 1.2},
	UnitArcher:  {Cost: 200, Health: 120, Damage: 30, Speed: 1.0},
}

var insaneUnits = map[UnitType]UnitStats{
	UnitMiner:   {Cost: 100, Health: 60, Damage: 5, Speed: 1.6},
	UnitSoldier: {Cost: 150, Health: 200, Damage: 20, Speed: 2.4},
	UnitArcher:  {Cost: 200, Health: 120, Damage: 30, Speed: 2.0},
}

// beta trials the tank and cheaper archers before they graduate to classic.
var betaUnits = map[UnitType]UnitStats{
	UnitMiner:   {Cost: 100, Health: 60, Damage: 5, Speed: 0.8},
	UnitSoldier: {Cost: 150, Health: 200, Damage: 20, Speed: 1.2},
	UnitArcher:  {Cost: 150, Health: 120, Damage: 30, Speed: 1.0},
	UnitTank:    {Cost: 400, Health: 600, Damage: 45, Speed: 0.6},
}

// Modes is the registry of playable modes keyed by wire name.
var Modes = map[string]*Mode{
	"classic": {
		Name:           "classic",
		StartingGold:   500,
		BaseIncome:     10,
		MinerBonus:     5,
		IncomeInterval: 2 * time.Second,
		BaseHealth:     1000,
		Units:          classicUnits,
	},
	"insane": {
		Name:           "insane",
		StartingGold:   500,
		BaseIncome:     20,
		MinerBonus:     10,
		IncomeInterval: 2 * time.Second,
		BaseHealth:     1000,
		Units:          insaneUnits,
	},
	"beta": {
		Name:           "beta",
		StartingGold:   500,
		BaseIncome:     10,
		MinerBonus:     5,
		IncomeInterval: 2 * time.Second,
		BaseHealth:     1000,
		Units:          betaUnits,
	},
}

// ModeByName resolves a wire-level mode name, falling back to classic for
// anything unknown so a stale client can still get a playable room.
func ModeByName(name string) *Mode {
	if m, ok := Modes[name]; ok {
		return m
	}
	return Modes["classic"]
}

// IsValidMode reports whether the given wire name maps to a known mode.
func IsValidMode(name string) bool {
	_, ok := Modes[name]
	return ok
}

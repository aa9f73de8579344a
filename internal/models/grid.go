package models

// GridPlan is the transient result of one grid computation. It is recomputed
// on every rebuild and never persisted.
type GridPlan struct {
	LowerBound   float64
	UpperBound   float64
	Step         float64
	MidPrice     float64
	SizePerOrder float64
	LevelCount   int
}

// Spread returns the total width of the grid.
func (g GridPlan) Spread() float64 {
	return g.UpperBound - g.LowerBound
}

// GridLevel is a single price level of a plan with its assigned side.
type GridLevel struct {
	Index int
	Price float64
	Side  OrderSide
}

package geo

import (
	"math"

	"github.com/cockroachdb/apd/v3"
)

// anglePrecision is the number of significant digits carried through the vector math.
// It must resolve 1e-6 degree deltas without cancellation.
const anglePrecision = 40

var (
	decimalOne      = apd.New(1, 0)
	decimalMinusOne = apd.New(-1, 0)
)

// TurnAngle returns the angle in degrees, in [0, 180], between the incoming direction a->b
// and the outgoing direction b->c. Latitude and longitude are treated as plain Cartesian axes.
// If any two of the points are equal, or any coordinate is NaN or infinite, the angle is 0.
func TurnAngle(a, b, c Point) float64 {
	if a == b || b == c || a == c {
		return 0
	}
	if !finite(a) || !finite(b) || !finite(c) {
		return 0
	}

	cosine, ok := turnCosine(a, b, c)
	if !ok {
		return 0
	}

	return math.Acos(cosine) * 180 / math.Pi
}

// turnCosine computes cos(angle) between AB and BC in decimal arithmetic, clamped to [-1, 1]
func turnCosine(a, b, c Point) (float64, bool) {
	calc := newDecimalCalc()

	ax, ay := calc.fromFloat(a.Latitude), calc.fromFloat(a.Longitude)
	bx, by := calc.fromFloat(b.Latitude), calc.fromFloat(b.Longitude)
	cx, cy := calc.fromFloat(c.Latitude), calc.fromFloat(c.Longitude)

	abx, aby := calc.sub(bx, ax), calc.sub(by, ay)
	bcx, bcy := calc.sub(cx, bx), calc.sub(cy, by)

	dot := calc.add(calc.mul(abx, bcx), calc.mul(aby, bcy))
	magnitudeAB := calc.sqrt(calc.add(calc.mul(abx, abx), calc.mul(aby, aby)))
	magnitudeBC := calc.sqrt(calc.add(calc.mul(bcx, bcx), calc.mul(bcy, bcy)))

	cosine := calc.quo(dot, calc.mul(magnitudeAB, magnitudeBC))
	if calc.err != nil {
		return 0, false
	}

	if cosine.Cmp(decimalOne) > 0 {
		cosine.Set(decimalOne)
	} else if cosine.Cmp(decimalMinusOne) < 0 {
		cosine.Set(decimalMinusOne)
	}

	f, err := cosine.Float64()
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func finite(p Point) bool {
	for _, v := range [...]float64{p.Latitude, p.Longitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// decimalCalc chains apd operations, keeping the first error
type decimalCalc struct {
	ctx *apd.Context
	err error
}

func newDecimalCalc() *decimalCalc {
	return &decimalCalc{ctx: apd.BaseContext.WithPrecision(anglePrecision)}
}

// fromFloat converts through the shortest decimal string that round-trips f,
// so 47.501303 enters as exactly 47.501303 rather than its binary expansion.
func (c *decimalCalc) fromFloat(f float64) *apd.Decimal {
	d := new(apd.Decimal)
	if c.err != nil {
		return d
	}
	if _, err := d.SetFloat64(f); err != nil {
		c.err = err
	}
	return d
}

func (c *decimalCalc) sub(x, y *apd.Decimal) *apd.Decimal {
	return c.apply(func(d *apd.Decimal) (apd.Condition, error) { return c.ctx.Sub(d, x, y) })
}

func (c *decimalCalc) add(x, y *apd.Decimal) *apd.Decimal {
	return c.apply(func(d *apd.Decimal) (apd.Condition, error) { return c.ctx.Add(d, x, y) })
}

func (c *decimalCalc) mul(x, y *apd.Decimal) *apd.Decimal {
	return c.apply(func(d *apd.Decimal) (apd.Condition, error) { return c.ctx.Mul(d, x, y) })
}

func (c *decimalCalc) quo(x, y *apd.Decimal) *apd.Decimal {
	return c.apply(func(d *apd.Decimal) (apd.Condition, error) { return c.ctx.Quo(d, x, y) })
}

func (c *decimalCalc) sqrt(x *apd.Decimal) *apd.Decimal {
	return c.apply(func(d *apd.Decimal) (apd.Condition, error) { return c.ctx.Sqrt(d, x) })
}

func (c *decimalCalc) apply(op func(d *apd.Decimal) (apd.Condition, error)) *apd.Decimal {
	d := new(apd.Decimal)
	if c.err != nil {
		return d
	}
	if _, err := op(d); err != nil {
		c.err = err
	}
	return d
}

package tunable

import (
	"testing"

	"go.viam.com/test"
)

func TestTunables(t *testing.T) {
	var ts Tunables
	test.That(t, ts.Current(), test.ShouldBeNil)
	test.That(t, ts.SelectNext(), test.ShouldBeNil)

	var applied []float64
	kp := ts.Create("kp", 5, 0.1, func(v float64) { applied = append(applied, v) })
	speed := ts.Create("speed", 0, 10, nil)

	test.That(t, ts.Current(), test.ShouldEqual, kp)
	test.That(t, kp.Add(3), test.ShouldAlmostEqual, 5.3)
	test.That(t, kp.Get(), test.ShouldAlmostEqual, 5.3)
	kp.Set(2)
	test.That(t, applied, test.ShouldHaveLength, 2)
	test.That(t, applied[1], test.ShouldEqual, 2)

	test.That(t, ts.SelectNext(), test.ShouldEqual, speed)
	test.That(t, ts.SelectNext(), test.ShouldEqual, kp)
	test.That(t, ts.SelectPrev(), test.ShouldEqual, speed)
	test.That(t, speed.Add(-2), test.ShouldEqual, -20)

	test.That(t, ts.Find("speed"), test.ShouldEqual, speed)
	test.That(t, ts.Find("ki"), test.ShouldBeNil)
	test.That(t, ts.All(), test.ShouldHaveLength, 2)
}

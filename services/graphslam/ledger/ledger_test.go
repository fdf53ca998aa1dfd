package ledger

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestRegisterType(t *testing.T) {
	l := New()
	test.That(t, l.RegisterType("ICP2D"), test.ShouldBeNil)

	count, err := l.CountFor("ICP2D")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 0)

	err = l.RegisterType("ICP2D")
	test.That(t, errors.Is(err, ErrDuplicateType), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "ICP2D")
}

func TestIncrement(t *testing.T) {
	l := New()
	test.That(t, l.RegisterType("Odometry"), test.ShouldBeNil)
	test.That(t, l.RegisterType("ICP2D"), test.ShouldBeNil)

	test.That(t, l.Increment("Odometry", false), test.ShouldBeNil)
	test.That(t, l.Increment("ICP2D", true), test.ShouldBeNil)
	test.That(t, l.Increment("ICP2D", false), test.ShouldBeNil)

	test.That(t, l.TotalCount(), test.ShouldEqual, 3)
	test.That(t, l.LoopClosureCount(), test.ShouldEqual, 1)
	count, err := l.CountFor("ICP2D")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 2)
	test.That(t, l.Counts(), test.ShouldResemble, map[string]int{"Odometry": 1, "ICP2D": 2})
	test.That(t, l.Types(), test.ShouldResemble, []string{"Odometry", "ICP2D"})

	err = l.Increment("ICP3D", false)
	test.That(t, errors.Is(err, ErrUnknownType), test.ShouldBeTrue)
	_, err = l.CountFor("ICP3D")
	test.That(t, errors.Is(err, ErrUnknownType), test.ShouldBeTrue)
	// failed increments leave the counts untouched
	test.That(t, l.TotalCount(), test.ShouldEqual, 3)
	test.That(t, l.LoopClosureCount(), test.ShouldEqual, 1)
}

func TestClear(t *testing.T) {
	l := New()
	test.That(t, l.RegisterType("ICP2D"), test.ShouldBeNil)
	test.That(t, l.Increment("ICP2D", true), test.ShouldBeNil)

	l.Clear()
	test.That(t, l.TotalCount(), test.ShouldEqual, 0)
	test.That(t, l.LoopClosureCount(), test.ShouldEqual, 0)
	test.That(t, l.Types(), test.ShouldBeEmpty)
	_, err := l.CountFor("ICP2D")
	test.That(t, errors.Is(err, ErrUnknownType), test.ShouldBeTrue)
	test.That(t, l.RegisterType("ICP2D"), test.ShouldBeNil)
}

func TestTotalsInvariant(t *testing.T) {
	names := []string{"Odometry", "ICP2D", "ICP3D"}
	l := New()
	for _, name := range names {
		test.That(t, l.RegisterType(name), test.ShouldBeNil)
	}

	// unknown names are mixed in and must not disturb the totals
	choices := []string{"Odometry", "ICP2D", "ICP3D", "bogus"}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		_ = l.Increment(choices[rng.Intn(len(choices))], rng.Intn(3) == 0)

		sum := 0
		for _, n := range names {
			c, err := l.CountFor(n)
			test.That(t, err, test.ShouldBeNil)
			sum += c
		}
		test.That(t, l.TotalCount(), test.ShouldEqual, sum)
		test.That(t, l.LoopClosureCount(), test.ShouldBeLessThanOrEqualTo, l.TotalCount())
	}
}

func TestSummary(t *testing.T) {
	l := New()
	test.That(t, l.RegisterType("Odometry"), test.ShouldBeNil)
	test.That(t, l.RegisterType("ICP2D"), test.ShouldBeNil)
	test.That(t, l.Increment("ICP2D", true), test.ShouldBeNil)

	summary := l.Summary()
	test.That(t, summary, test.ShouldContainSubstring, "Total edges: 1")
	test.That(t, summary, test.ShouldContainSubstring, "Loop closure edges: 1")
	// registration order, not alphabetical
	test.That(t, strings.Index(summary, "Odometry"), test.ShouldBeLessThan, strings.Index(summary, "ICP2D"))
	test.That(t, l.Summary(), test.ShouldEqual, summary)
}

package gpio

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{"1", High},
		{"high", High},
		{" HIGH\n", High},
		{"0", Low},
		{"low", Low},
	} {
		l, err := ParseLevel(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, l, test.ShouldEqual, tc.want)
	}

	_, err := ParseLevel("2")
	test.That(t, errors.Is(err, ErrInvalidLevel), test.ShouldBeTrue)

	test.That(t, High.String(), test.ShouldEqual, "1")
	test.That(t, Low.String(), test.ShouldEqual, "0")
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("in")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, In)

	d, err = ParseDirection("OUT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, Out)

	_, err = ParseDirection("high")
	test.That(t, errors.Is(err, ErrInvalidDirection), test.ShouldBeTrue)
}

func TestParseNumber(t *testing.T) {
	n, err := ParseNumber("24")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, Number(24))

	for _, bad := range []string{"", "-1", "gpio24", "2.5"} {
		_, err := ParseNumber(bad)
		test.That(t, errors.Is(err, ErrInvalidPinNumber), test.ShouldBeTrue)
	}
}

func TestRaspberryPiLines(t *testing.T) {
	test.That(t, RaspberryPi, test.ShouldHaveLength, 28)
	for n := Number(0); n <= 27; n++ {
		test.That(t, RaspberryPi.Validate(n), test.ShouldBeNil)
	}

	for _, n := range []Number{-1, 28, 99} {
		test.That(t, errors.Is(RaspberryPi.Validate(n), ErrInvalidPinNumber), test.ShouldBeTrue)
	}

	lines := NewLineSet(7, 3, 5)
	test.That(t, lines.Numbers(), test.ShouldResemble, []Number{3, 5, 7})
}

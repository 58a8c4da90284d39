package sigverify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/geanlabs/gravity/types"
)

// Threshold is the fraction of total power a signature set must reach.
type Threshold struct {
	Numerator   uint64
	Denominator uint64
}

// TwoThirds is the supermajority used unless configured otherwise.
var TwoThirds = Threshold{Numerator: 2, Denominator: 3}

// Validate rejects fractions outside (0, 1].
func (t Threshold) Validate() error {
	if t.Denominator == 0 || t.Numerator == 0 || t.Numerator > t.Denominator {
		return fmt.Errorf("invalid threshold %d/%d", t.Numerator, t.Denominator)
	}
	return nil
}

// Reached reports signed*Denominator >= total*Numerator. The products are
// computed in 256 bits so large powers neither overflow nor round.
func (t Threshold) Reached(signed, total types.Power) bool {
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(signed)), uint256.NewInt(t.Denominator))
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(total)), uint256.NewInt(t.Numerator))
	return !lhs.Lt(rhs)
}

func (t Threshold) String() string {
	return fmt.Sprintf("%d/%d", t.Numerator, t.Denominator)
}

// ParseThreshold parses "n/d".
func ParseThreshold(s string) (Threshold, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Threshold{}, fmt.Errorf("threshold %q: want numerator/denominator", s)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(num), 10, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold numerator: %w", err)
	}
	d, err := strconv.ParseUint(strings.TrimSpace(den), 10, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold denominator: %w", err)
	}
	t := Threshold{Numerator: n, Denominator: d}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	return t, nil
}

// UnmarshalYAML lets configuration files write thresholds as "2/3".
func (t *Threshold) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseThreshold(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML writes the threshold as "n/d".
func (t Threshold) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

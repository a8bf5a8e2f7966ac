package engine

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSeries(t *testing.T) {
	ok := candlesFromCloses(1, 2, 3)
	if err := ValidateSeries(ok); err != nil {
		t.Fatal(err)
	}

	dup := candlesFromCloses(1, 2, 3)
	dup[2].OpenTime = dup[1].OpenTime
	if err := ValidateSeries(dup); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("duplicate: %v", err)
	}

	back := candlesFromCloses(1, 2, 3)
	back[2].OpenTime = back[0].OpenTime.Add(-time.Minute)
	if err := ValidateSeries(back); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unordered: %v", err)
	}
}

func TestDetectGaps(t *testing.T) {
	c := candlesFromCloses(1, 2, 3, 4)
	c[2].OpenTime = c[1].OpenTime.Add(4 * time.Minute)
	c[3].OpenTime = c[2].OpenTime.Add(time.Minute)

	gaps := DetectGaps(c, time.Minute)
	if len(gaps) != 1 || gaps[0].Missing != 3 || !gaps[0].After.Equal(c[1].OpenTime) {
		t.Fatalf("gaps = %+v", gaps)
	}
	if DetectGaps(c, 0) != nil {
		t.Fatal("non-positive step must report nothing")
	}
}

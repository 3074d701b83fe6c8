package risk

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/types"
)

func TestExcursionTracker_Long(t *testing.T) {
	tr := NewExcursionTracker(types.SideLong, d("10000"), decimal.Zero, decimal.Zero)

	if !tr.Update(d("10400")) {
		t.Error("first favorable move should set a new extreme")
	}
	tr.Update(d("9700"))
	tr.Update(d("10100"))

	mfe, mae := tr.Snapshot()
	if !mfe.Equal(d("400")) || !mae.Equal(d("300")) {
		t.Errorf("MFE/MAE = %s/%s, want 400/300", mfe, mae)
	}
}

func TestExcursionTracker_Short(t *testing.T) {
	tr := NewExcursionTracker(types.SideShort, d("10000"), decimal.Zero, decimal.Zero)
	tr.Update(d("9500"))
	tr.Update(d("10250"))

	mfe, mae := tr.Snapshot()
	if !mfe.Equal(d("500")) || !mae.Equal(d("250")) {
		t.Errorf("MFE/MAE = %s/%s, want 500/250", mfe, mae)
	}
}

func TestExcursionTracker_Resume(t *testing.T) {
	tr := NewExcursionTracker(types.SideLong, d("10000"), d("600"), d("-200"))

	if tr.Update(d("10300")) {
		t.Error("move inside persisted extremes should not set a new one")
	}
	mfe, mae := tr.Snapshot()
	if !mfe.Equal(d("600")) || !mae.Equal(d("200")) {
		t.Errorf("MFE/MAE = %s/%s, want 600/200", mfe, mae)
	}
}

func TestExcursionTracker_Concurrent(t *testing.T) {
	tr := NewExcursionTracker(types.SideLong, d("10000"), decimal.Zero, decimal.Zero)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(decimal.NewFromInt(int64(10000 + (id*j)%1000 - 500)))
				tr.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	mfe, mae := tr.Snapshot()
	if mfe.GreaterThan(d("500")) || mae.GreaterThan(d("500")) {
		t.Errorf("MFE/MAE = %s/%s exceed generated range", mfe, mae)
	}
}

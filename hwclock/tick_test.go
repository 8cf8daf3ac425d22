package hwclock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuda-data/CasperLabs/hwclock"
)

var testGenesis = time.Date(2019, time.December, 30, 0, 0, 0, 0, time.UTC)

func TestConverter_RoundTrip(t *testing.T) {
	t.Parallel()

	conv := hwclock.Converter{Genesis: testGenesis, Unit: time.Second}

	for _, tick := range []hwclock.Tick{0, 1, 59, 604800, 1 << 40} {
		require.Equal(t, tick, conv.ToTick(conv.ToInstant(tick)))
	}
}

func TestConverter_ToTickTruncates(t *testing.T) {
	t.Parallel()

	conv := hwclock.Converter{Genesis: testGenesis, Unit: time.Second}

	require.Equal(t, hwclock.Tick(3), conv.ToTick(testGenesis.Add(3500*time.Millisecond)))
	require.Equal(t, hwclock.Tick(0), conv.ToTick(testGenesis.Add(999*time.Millisecond)))
}

func TestConverter_BeforeGenesisClampsToZero(t *testing.T) {
	t.Parallel()

	conv := hwclock.Converter{Genesis: testGenesis, Unit: time.Second}

	require.Equal(t, hwclock.Tick(0), conv.ToTick(testGenesis.Add(-time.Hour)))
}

func TestConverter_Ticks(t *testing.T) {
	t.Parallel()

	conv := hwclock.Converter{Genesis: testGenesis, Unit: time.Second}

	require.Equal(t, hwclock.Tick(604800), conv.Ticks(7*24*time.Hour))
	require.Equal(t, hwclock.Tick(0), conv.Ticks(-time.Minute))
	require.Equal(t, hwclock.Tick(1), conv.Ticks(1500*time.Millisecond))
}

func TestConverter_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, hwclock.Converter{Genesis: testGenesis, Unit: time.Second}.Validate())
	require.Error(t, hwclock.Converter{Genesis: testGenesis}.Validate())
	require.Error(t, hwclock.Converter{Unit: time.Second}.Validate())
	require.Error(t, hwclock.Converter{Genesis: testGenesis, Unit: -time.Second}.Validate())
}

func TestNewWallClock_RejectsInvalidConverter(t *testing.T) {
	t.Parallel()

	_, err := hwclock.NewWallClock(hwclock.Converter{})
	require.Error(t, err)
}

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableValidAcceptsExactlyConfiguredHandles(t *testing.T) {
	table, err := NewTable([]SlotConfig{
		{Name: "echo", Priority: 130, Binding: 0},
		{Name: "rng", Priority: 130, Binding: 1},
		{Name: "digest", Priority: 130, Binding: 2},
	})
	require.NoError(t, err)

	valid := map[Handle]bool{}
	for i := 0; i < table.Len(); i++ {
		h := table.Handle(i)
		valid[h] = true
		assert.True(t, table.Valid(h), "slot %d handle %s", i, h)
	}

	// Sweep every value around the arena: only the three slot handles pass.
	for h := Handle(0); h < HandleBase+HandleStride*8; h++ {
		assert.Equal(t, valid[h], table.Valid(h), "handle %#x", uint32(h))
	}

	for _, h := range []Handle{
		HandleDiscovery, HandleQuery, HandleIdle, HandleVersion,
		0,
		HandleBase + 1,
		HandleBase + HandleStride/2,
		HandleBase + HandleStride + 4,
		HandleBase + 3*HandleStride,
		0xffffffff,
	} {
		assert.False(t, table.Valid(h), "handle %#x", uint32(h))
	}
}

func TestIndexAddrRejectsWideValues(t *testing.T) {
	table, err := NewTable([]SlotConfig{{Name: "echo", Priority: 130}})
	require.NoError(t, err)

	_, ok := table.indexAddr(uint64(HandleBase))
	assert.True(t, ok)
	_, ok = table.indexAddr(uint64(HandleBase) | 1<<32)
	assert.False(t, ok)
}

func TestReservedHandlesAreDistinctFromSlots(t *testing.T) {
	for _, h := range []Handle{HandleDiscovery, HandleQuery, HandleIdle, HandleVersion} {
		assert.True(t, h.Reserved())
		assert.Less(t, h, HandleBase)
	}
	assert.False(t, HandleBase.Reserved())
}

func TestLookup(t *testing.T) {
	table, err := NewTable([]SlotConfig{
		{Name: "echo", Priority: 130, Binding: 0},
		{Name: "rng", Priority: 130, Binding: 1},
		{Name: "rng", Priority: 130, Binding: 2},
	})
	require.NoError(t, err)

	h, ok := table.Lookup("rng")
	require.True(t, ok)
	assert.Equal(t, table.Handle(1), h, "first match wins")

	_, ok = table.Lookup("RNG")
	assert.False(t, ok)
	_, ok = table.Lookup("ech")
	assert.False(t, ok)
	_, ok = table.Lookup("")
	assert.False(t, ok)
}

func TestNewTableValidation(t *testing.T) {
	_, err := NewTable(nil)
	assert.Error(t, err)

	_, err = NewTable([]SlotConfig{{Name: ""}})
	assert.Error(t, err)

	_, err = NewTable(make([]SlotConfig, MaxSlots+1))
	assert.Error(t, err)
}

func TestTableVerify(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []SlotConfig
		wantErr string
	}{
		{
			name: "valid",
			cfgs: []SlotConfig{{Name: "a", Priority: 129, Binding: 0}, {Name: "b", Priority: 254, Binding: 1}},
		},
		{
			name:    "binding mismatch",
			cfgs:    []SlotConfig{{Name: "a", Priority: 130, Binding: 0}, {Name: "b", Priority: 130, Binding: 0}},
			wantErr: "bound to slot 0, expected 1",
		},
		{
			name:    "priority at normal",
			cfgs:    []SlotConfig{{Name: "a", Priority: 128, Binding: 0}},
			wantErr: "priority 128",
		},
		{
			name:    "priority at high",
			cfgs:    []SlotConfig{{Name: "a", Priority: 255, Binding: 0}},
			wantErr: "priority 255",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewTable(tt.cfgs)
			require.NoError(t, err)
			err = table.Verify(128, 255)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResultPacking(t *testing.T) {
	r := Pack(int32(StatusBusy), 0x8000_0001)
	assert.Equal(t, StatusBusy, r.Status())
	assert.Equal(t, int32(-7), r.Low())
	assert.EqualValues(t, 0x8000_0001, r.Flags())
	assert.Equal(t, uint64(0x8000_0001_ffff_fff9), uint64(r))
}

package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleTone_Payload(t *testing.T) {
	c, err := NewSimpleTone(1000, 500)
	require.NoError(t, err)
	assert.Equal(t, CmdBuzzerSimple, c.ID())
	assert.Equal(t, []byte{0x03, 0xE8, 0x01, 0xF4}, c.Payload())
}

func TestMelody_Payload(t *testing.T) {
	c, err := NewMelody(120, []int{440, 0, 880})
	require.NoError(t, err)
	assert.Equal(t, CmdBuzzerMelody, c.ID())
	assert.Equal(t, []byte{0x00, 0x78, 0x03, 0x01, 0xB8, 0x00, 0x00, 0x03, 0x70}, c.Payload())

	full := make([]int, MaxMelodyNotes)
	c, err = NewMelody(1, full)
	require.NoError(t, err)
	assert.Len(t, c.Payload(), 59)
}

func TestDispense_Payload(t *testing.T) {
	c, err := NewDispense(3)
	require.NoError(t, err)
	assert.Equal(t, CmdDispense, c.ID())
	assert.Equal(t, []byte{0x01, 0x00, 0x03}, c.Payload())
}

func TestConstructorsRejectInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{"频率为负", func() error { _, err := NewSimpleTone(-1, 10); return err }},
		{"频率超过uint16", func() error { _, err := NewSimpleTone(65536, 10); return err }},
		{"时长超过uint16", func() error { _, err := NewSimpleTone(440, 70000); return err }},
		{"节拍为0", func() error { _, err := NewMelody(0, []int{440}); return err }},
		{"节拍超过uint16", func() error { _, err := NewMelody(65536, []int{440}); return err }},
		{"空旋律", func() error { _, err := NewMelody(100, nil); return err }},
		{"音符过多", func() error { _, err := NewMelody(100, make([]int, MaxMelodyNotes+1)); return err }},
		{"音符越界", func() error { _, err := NewMelody(100, []int{440, 70000}); return err }},
		{"出粮数量为0", func() error { _, err := NewDispense(0); return err }},
		{"出粮数量越界", func() error { _, err := NewDispense(65536); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParameter), "got %v", err)
		})
	}
}

func TestConstructorsAcceptBounds(t *testing.T) {
	_, err := NewSimpleTone(0, 0)
	assert.NoError(t, err)
	_, err = NewSimpleTone(65535, 65535)
	assert.NoError(t, err)
	_, err = NewMelody(65535, []int{0, 65535})
	assert.NoError(t, err)
	_, err = NewDispense(65535)
	assert.NoError(t, err)
}

func TestParseResponse(t *testing.T) {
	tone, _ := NewSimpleTone(1000, 500)
	tests := []struct {
		name   string
		code   byte
		status Status
		target error
	}{
		{"已接收", RespCommandReceived, StatusAcknowledged, nil},
		{"完成", RespTaskComplete, StatusCompleted, nil},
		{"未知命令", RespUnknownCommand, 0, ErrUnknownCommand},
		{"负载非法", RespInvalidPayload, 0, ErrInvalidPayload},
		{"资源忙", RespResourceBusy, 0, ErrResourceBusy},
		{"任务失败", RespTaskFailed, 0, ErrTaskFailed},
		{"意外响应码", 0x55, 0, ErrUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tone.ParseResponse(tt.code, nil)
			if tt.target == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.status, res.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.True(t, IsDeviceError(err))
		})
	}
}

func TestParseResponse_ResourceBusyIsNotOtherFailures(t *testing.T) {
	m, _ := NewMelody(100, []int{440})
	_, err := m.ParseResponse(RespResourceBusy, nil)
	assert.True(t, errors.Is(err, ErrResourceBusy))
	assert.False(t, errors.Is(err, ErrTaskFailed))
}

func TestParseResponse_UnknownCommandEchoesID(t *testing.T) {
	d, _ := NewDispense(1)
	_, err := d.ParseResponse(RespUnknownCommand, []byte{CmdDispense})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x20")
}

func TestDispense_CompletedValue(t *testing.T) {
	d, _ := NewDispense(4)

	res, err := d.ParseResponse(RespTaskComplete, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), res.Value)

	res, err = d.ParseResponse(RespTaskComplete, []byte{0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, uint16(2), res.Value)
	assert.True(t, res.Terminal())
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(RespCommandReceived))
	for _, c := range []byte{RespTaskComplete, RespUnknownCommand, RespInvalidPayload, RespResourceBusy, RespTaskFailed} {
		assert.True(t, IsTerminal(c), CodeName(c))
	}
}

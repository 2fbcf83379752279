package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	packets  int
	discards map[error]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{discards: make(map[error]int)}
}

func (o *recordingObserver) OnPacket(*Packet) { o.packets++ }
func (o *recordingObserver) OnDiscard(reason error, dropped int) {
	o.discards[reason] += dropped
}

func feedAll(p *Parser, data []byte) []*Packet {
	var out []*Packet
	for _, b := range data {
		if pkt, ok := p.Feed(b); ok {
			out = append(out, pkt)
		}
	}
	return out
}

func TestEncode_SimpleToneVector(t *testing.T) {
	// 1000Hz, 500ms，关联ID=7
	raw, err := Encode(7, 0x10, []byte{0x03, 0xE8, 0x01, 0xF4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x07, 0x10, 0x04, 0x03, 0xE8, 0x01, 0xF4, 0xA7}, raw)
	assert.Equal(t, raw[len(raw)-1], Checksum(raw[:len(raw)-1]))
}

func TestEncode_PayloadLimit(t *testing.T) {
	_, err := Encode(1, 0x11, make([]byte, MaxPayloadSize))
	require.NoError(t, err)

	_, err = Encode(1, 0x11, make([]byte, MaxPayloadSize+1))
	assert.True(t, errors.Is(err, ErrPayloadTooLarge), "got %v", err)
}

func TestParser_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		{0x01},
		{0x03, 0xE8, 0x01, 0xF4},
		bytes.Repeat([]byte{0xAA}, MaxPayloadSize), // 负载中出现起始字节
	}
	for id := 0; id < 256; id += 37 {
		for _, payload := range payloads {
			raw, err := Encode(byte(id), 0xA1, payload)
			require.NoError(t, err)

			p := NewParser()
			got := feedAll(p, raw)
			require.Len(t, got, 1)
			assert.Equal(t, byte(id), got[0].CorrelationID)
			assert.Equal(t, byte(0xA1), got[0].Code)
			assert.Equal(t, len(payload), len(got[0].Payload))
			if len(payload) > 0 {
				assert.Equal(t, payload, got[0].Payload)
			}
			assert.True(t, got[0].Valid())
			assert.Equal(t, StateAwaitingStart, p.State())
		}
	}
}

func TestParser_EmptyPayloadGoesStraightToChecksum(t *testing.T) {
	p := NewParser()
	for _, b := range []byte{0xAA, 0x07, 0xA1} {
		_, ok := p.Feed(b)
		require.False(t, ok)
	}
	_, ok := p.Feed(0x00)
	require.False(t, ok)
	assert.Equal(t, StateValidatingChecksum, p.State())

	pkt, ok := p.Feed(0x0C)
	require.True(t, ok)
	assert.Equal(t, byte(7), pkt.CorrelationID)
	assert.Equal(t, byte(0xA1), pkt.Code)
	assert.Empty(t, pkt.Payload)
}

func TestParser_SingleBitFlipIsRejected(t *testing.T) {
	raw, err := Encode(7, 0x10, []byte{0x03, 0xE8, 0x01, 0xF4})
	require.NoError(t, err)

	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			corrupted := append([]byte(nil), raw...)
			corrupted[i] ^= 1 << bit

			p := NewParser()
			got := feedAll(p, corrupted)
			assert.Empty(t, got, "flip byte %d bit %d", i, bit)
			if i != 3 {
				// 长度字节被翻转时解析器可能仍在等待负载
				assert.Equal(t, StateAwaitingStart, p.State(), "flip byte %d bit %d", i, bit)
			}
		}
	}
}

func TestParser_ResyncAfterGarbage(t *testing.T) {
	valid, err := Encode(9, 0xA0, nil)
	require.NoError(t, err)

	obs := newRecordingObserver()
	p := NewParser(WithObserver(obs))

	garbage := []byte{0x00, 0x13, 0xFF, 0x42}
	// 一个校验错误的候选包，接着是有效包
	broken := []byte{0xAA, 0x01, 0xA1, 0x00, 0x00}
	stream := append(append(garbage, broken...), valid...)

	got := feedAll(p, stream)
	require.Len(t, got, 1)
	assert.Equal(t, byte(9), got[0].CorrelationID)
	assert.Equal(t, 1, obs.packets)
	assert.Equal(t, len(garbage), obs.discards[ErrNoise])
	assert.Equal(t, len(broken), obs.discards[ErrChecksumMismatch])
}

func TestParser_OversizedLengthResetsImmediately(t *testing.T) {
	valid, err := Encode(3, 0xA1, []byte{0x00, 0x02})
	require.NoError(t, err)

	obs := newRecordingObserver()
	p := NewParser(WithObserver(obs))

	for _, b := range []byte{0xAA, 0x05, 0xA1} {
		p.Feed(b)
	}
	_, ok := p.Feed(MaxPayloadSize + 1)
	require.False(t, ok)
	assert.Equal(t, StateAwaitingStart, p.State())
	assert.Equal(t, 4, obs.discards[ErrOversizedLength])

	// 后续字节不能被当作负载吞掉
	got := feedAll(p, valid)
	require.Len(t, got, 1)
	assert.Equal(t, byte(3), got[0].CorrelationID)
	assert.Equal(t, []byte{0x00, 0x02}, got[0].Payload)
}

func TestParser_StrayStartByteSwallowsFollowingPacket(t *testing.T) {
	first, err := Encode(4, 0xA0, nil)
	require.NoError(t, err)
	second, err := Encode(5, 0xA1, nil)
	require.NoError(t, err)

	obs := newRecordingObserver()
	p := NewParser(WithObserver(obs))

	stream := append([]byte{StartByte}, first...)
	stream = append(stream, second...)
	got := feedAll(p, stream)
	require.Len(t, got, 1)
	assert.Equal(t, byte(5), got[0].CorrelationID)
	assert.Equal(t, StateAwaitingStart, p.State())
	assert.Positive(t, obs.discards[ErrOversizedLength]+obs.discards[ErrChecksumMismatch])
}

func TestParser_BackToBackPackets(t *testing.T) {
	var stream []byte
	for id := byte(0); id < 5; id++ {
		raw, err := Encode(id, 0xA0, []byte{id})
		require.NoError(t, err)
		stream = append(stream, raw...)
	}
	got := NewParser().FeedBytes(stream)
	require.Len(t, got, 5)
	for i, pkt := range got {
		assert.Equal(t, byte(i), pkt.CorrelationID)
	}
}

func TestParser_ResetDropsPartialPacket(t *testing.T) {
	p := NewParser()
	p.FeedBytes([]byte{0xAA, 0x01, 0xA1, 0x02, 0x00})
	assert.Equal(t, StateReadingPayload, p.State())

	p.Reset()
	assert.Equal(t, StateAwaitingStart, p.State())

	raw, _ := Encode(2, 0xA1, nil)
	got := p.FeedBytes(raw)
	require.Len(t, got, 1)
	assert.Equal(t, byte(2), got[0].CorrelationID)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0), Checksum(nil))
	assert.Equal(t, byte(0x0C), Checksum([]byte{0xAA, 0x07, 0xA1, 0x00}))
	assert.Equal(t, byte(0x4F), Checksum([]byte{0xAA, 0x07, 0xE2, 0x00}))
}

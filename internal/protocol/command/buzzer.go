package command

import "fmt"

// MaxMelodyNotes 固件旋律缓冲上限
// 3 字节头 + 28*2 字节音符 = 59，正好等于最大负载
const MaxMelodyNotes = 28

// SimpleTone 单音：指定频率与时长
type SimpleTone struct {
	frequency uint16
	duration  uint16
}

// NewSimpleTone 构造单音命令，frequency(Hz) 与 durationMs 均须在 0-65535
func NewSimpleTone(frequency, durationMs int) (*SimpleTone, error) {
	if err := checkUint16("frequency", frequency); err != nil {
		return nil, err
	}
	if err := checkUint16("duration", durationMs); err != nil {
		return nil, err
	}
	return &SimpleTone{frequency: uint16(frequency), duration: uint16(durationMs)}, nil
}

func (c *SimpleTone) ID() byte     { return CmdBuzzerSimple }
func (c *SimpleTone) Kind() string { return KindSimpleTone }

// Frequency 频率（Hz）
func (c *SimpleTone) Frequency() uint16 { return c.frequency }

// DurationMs 时长（毫秒）
func (c *SimpleTone) DurationMs() uint16 { return c.duration }

// Payload frequency:u16, duration_ms:u16
func (c *SimpleTone) Payload() []byte {
	b := make([]byte, 0, 4)
	b = appendUint16(b, c.frequency)
	return appendUint16(b, c.duration)
}

func (c *SimpleTone) ParseResponse(code byte, payload []byte) (Result, error) {
	return parseCommon(KindSimpleTone, code, payload, nil)
}

func (c *SimpleTone) String() string {
	return fmt.Sprintf("simple_tone{freq=%dHz dur=%dms}", c.frequency, c.duration)
}

// Melody 旋律：按节拍依次播放音符，音符值为频率，0 表示休止
type Melody struct {
	tempo uint16
	notes []uint16
}

// NewMelody 构造旋律命令
// tempo 1-65535，音符数 1-MaxMelodyNotes，每个音符 0-65535
func NewMelody(tempo int, notes []int) (*Melody, error) {
	if tempo < 1 || tempo > uint16Max {
		return nil, invalidParam("tempo %d outside 1-%d", tempo, uint16Max)
	}
	if len(notes) == 0 {
		return nil, invalidParam("melody must contain at least one note")
	}
	if len(notes) > MaxMelodyNotes {
		return nil, invalidParam("%d notes exceeds maximum of %d", len(notes), MaxMelodyNotes)
	}
	ns := make([]uint16, len(notes))
	for i, n := range notes {
		if err := checkUint16(fmt.Sprintf("note[%d]", i), n); err != nil {
			return nil, err
		}
		ns[i] = uint16(n)
	}
	return &Melody{tempo: uint16(tempo), notes: ns}, nil
}

func (c *Melody) ID() byte     { return CmdBuzzerMelody }
func (c *Melody) Kind() string { return KindMelody }

// Tempo 节拍
func (c *Melody) Tempo() uint16 { return c.tempo }

// Notes 返回音符副本
func (c *Melody) Notes() []uint16 {
	out := make([]uint16, len(c.notes))
	copy(out, c.notes)
	return out
}

// Payload tempo:u16, note_count:u8, notes:u16[note_count]
func (c *Melody) Payload() []byte {
	b := make([]byte, 0, 3+2*len(c.notes))
	b = appendUint16(b, c.tempo)
	b = append(b, byte(len(c.notes)))
	for _, n := range c.notes {
		b = appendUint16(b, n)
	}
	return b
}

func (c *Melody) ParseResponse(code byte, payload []byte) (Result, error) {
	return parseCommon(KindMelody, code, payload, nil)
}

func (c *Melody) String() string {
	return fmt.Sprintf("melody{tempo=%d notes=%d}", c.tempo, len(c.notes))
}

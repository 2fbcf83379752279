// Package tunes 命名旋律库（YAML）
package tunes

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/eifionsleith/Kittybyte-IoT/internal/protocol/command"
	"gopkg.in/yaml.v3"
)

// ErrUnknownTune 旋律不存在
var ErrUnknownTune = errors.New("unknown tune")

// Tune 一段旋律：节拍（BPM）与音符频率（0 为休止）
type Tune struct {
	Tempo int   `yaml:"tempo" json:"tempo"`
	Notes []int `yaml:"notes" json:"notes"`
}

// Library 名称 -> 旋律
type Library struct {
	Tunes map[string]Tune `yaml:"tunes"`
}

// Default 内置旋律
func Default() *Library {
	lib := &Library{Tunes: make(map[string]Tune)}
	// 开饭提示：C5 E5 G5 C6
	lib.Tunes["feeding_chime"] = Tune{Tempo: 240, Notes: []int{523, 659, 784, 1047}}
	// 出粮失败提示
	lib.Tunes["alert"] = Tune{Tempo: 300, Notes: []int{880, 0, 880, 0, 880}}
	// 连接成功提示
	lib.Tunes["startup"] = Tune{Tempo: 180, Notes: []int{392, 523}}
	return lib
}

// Load 读取旋律文件，与内置旋律合并（文件中的同名旋律优先）
// 每段旋律都会按命令约束校验
func Load(path string) (*Library, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tunes: %w", err)
	}
	var file Library
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("unmarshal tunes: %w", err)
	}

	lib := Default()
	for name, t := range file.Tunes {
		if _, err := command.NewMelody(t.Tempo, t.Notes); err != nil {
			return nil, fmt.Errorf("tune %q: %w", name, err)
		}
		lib.Tunes[name] = t
	}
	return lib, nil
}

// Melody 构造指定旋律的命令
func (l *Library) Melody(name string) (*command.Melody, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTune, name)
	}
	t, ok := l.Tunes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTune, name)
	}
	return command.NewMelody(t.Tempo, t.Notes)
}

// Names 已排序的旋律名称
func (l *Library) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.Tunes))
	for name := range l.Tunes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

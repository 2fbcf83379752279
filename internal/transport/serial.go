package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialConfig 串口参数
type SerialConfig struct {
	Port     string
	BaudRate int
}

// port Serial 用到的 go.bug.st/serial 端口能力子集
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// openPort 可在测试中替换
var openPort = func(name string, mode *serial.Mode) (port, error) {
	return serial.Open(name, mode)
}

// Serial 基于 go.bug.st/serial 的串口传输
// 读超时设为 0，Read 立即返回；Available 通过预读到暂存区实现
type Serial struct {
	cfg SerialConfig
	log *zap.Logger

	mu     sync.Mutex
	p      port
	staged []byte
	buf    [256]byte
}

// NewSerial 创建串口传输（未打开）
func NewSerial(cfg SerialConfig, log *zap.Logger) *Serial {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = 9600
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Serial{cfg: cfg, log: log}
}

// Open 以 8N1 打开串口
func (s *Serial) Open() error {
	if s.cfg.Port == "" {
		return errors.New("serial port path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := openPort(s.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.cfg.Port, err)
	}
	if err := p.SetReadTimeout(0); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}
	s.p = p
	s.staged = s.staged[:0]
	s.log.Info("serial port opened", zap.String("port", s.cfg.Port), zap.Int("baud", s.cfg.BaudRate))
	return nil
}

// Close 关闭串口
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	err := s.p.Close()
	s.p = nil
	s.staged = nil
	s.log.Info("serial port closed", zap.String("port", s.cfg.Port))
	return err
}

// Available 非阻塞地把已到达的字节搬到暂存区并返回其长度
func (s *Serial) Available() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0, ErrNotOpen
	}
	if err := s.fillLocked(); err != nil {
		return len(s.staged), err
	}
	return len(s.staged), nil
}

// Read 先返回暂存区数据，暂存区为空时做一次非阻塞读取
func (s *Serial) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0, ErrNotOpen
	}
	if len(s.staged) == 0 {
		if err := s.fillLocked(); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.staged)
	s.staged = s.staged[n:]
	return n, nil
}

func (s *Serial) fillLocked() error {
	n, err := s.p.Read(s.buf[:])
	if n > 0 {
		s.staged = append(s.staged, s.buf[:n]...)
	}
	if err != nil {
		return fmt.Errorf("serial read: %w", err)
	}
	return nil
}

// Write 写出全部字节
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return 0, ErrNotOpen
	}
	written := 0
	for written < len(p) {
		n, err := s.p.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("serial write: %w", err)
		}
	}
	return written, nil
}

// ResetInput 清空驱动输入缓冲与暂存区
func (s *Serial) ResetInput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.p == nil {
		return ErrNotOpen
	}
	s.staged = s.staged[:0]
	return s.p.ResetInputBuffer()
}

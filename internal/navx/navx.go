// Package navx reads yaw from a navX-style IMU streaming ASCII
// yaw/pitch/roll updates over a serial port.
package navx

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/san-kum/diffdrive/internal/drive"
	"github.com/san-kum/diffdrive/internal/sensors"
)

const (
	DefaultBaud = 57600

	fieldWidth = 7
	yprLen     = 2 + 4*fieldWidth + 2
	maxLine    = 256
	readWait   = 100 * time.Millisecond
)

var (
	ErrNoData      = errors.New("navx: no yaw update received")
	ErrBadFrame    = errors.New("navx: malformed frame")
	ErrBadChecksum = errors.New("navx: checksum mismatch")
)

// YPR is one yaw/pitch/roll/compass update in degrees.
type YPR struct {
	Yaw, Pitch, Roll, Compass float64
}

// ParseYPR decodes a "!y" frame: four fixed-width decimal fields followed
// by two hex digits holding the byte sum of everything before them.
// Trailing CR/LF is ignored.
func ParseYPR(line string) (YPR, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) != yprLen || !strings.HasPrefix(line, "!y") {
		return YPR{}, fmt.Errorf("%w: %q", ErrBadFrame, line)
	}

	body := line[:yprLen-2]
	want, err := strconv.ParseUint(line[yprLen-2:], 16, 8)
	if err != nil {
		return YPR{}, fmt.Errorf("%w: checksum %q", ErrBadFrame, line[yprLen-2:])
	}
	if got := Checksum(body); uint64(got) != want {
		return YPR{}, fmt.Errorf("%w: got %02X, frame says %02X", ErrBadChecksum, got, want)
	}

	var f [4]float64
	for i := range f {
		raw := strings.TrimSpace(body[2+i*fieldWidth : 2+(i+1)*fieldWidth])
		f[i], err = strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f[i]) || math.IsInf(f[i], 0) {
			return YPR{}, fmt.Errorf("%w: field %d %q", ErrBadFrame, i, raw)
		}
	}
	return YPR{Yaw: f[0], Pitch: f[1], Roll: f[2], Compass: f[3]}, nil
}

func Checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return sum
}

// FormatYPR encodes an update the way the IMU sends it.
func FormatYPR(u YPR) string {
	body := "!y" + field(u.Yaw) + field(u.Pitch) + field(u.Roll) + field(u.Compass)
	return fmt.Sprintf("%s%02X\r\n", body, Checksum(body))
}

func field(v float64) string {
	return fmt.Sprintf("%7.2f", v)[:fieldWidth]
}

var _ drive.Gyro = (*Sensor)(nil)

// Sensor accumulates yaw into an unbounded angle: crossing +-180 keeps
// counting instead of wrapping.
type Sensor struct {
	port   io.ReadCloser
	logger golog.Logger

	mu      sync.Mutex
	have    bool
	lastYaw float64
	angle   float64
	zero    float64
	bad     int

	done chan struct{}
}

// Open starts streaming from a serial port.
func Open(portName string, baud int, logger golog.Logger) (*Sensor, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", portName)
	}
	if err := port.SetReadTimeout(readWait); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "configure %s", portName)
	}
	logger.Infow("heading sensor opened", "port", portName, "baud", baud)
	return newSensor(port, logger), nil
}

func newSensor(r io.ReadCloser, logger golog.Logger) *Sensor {
	s := &Sensor{port: r, logger: logger, done: make(chan struct{})}
	go s.readLoop()
	return s
}

func (s *Sensor) readLoop() {
	defer close(s.done)
	br := bufio.NewReader(s.port)
	var line string
	for {
		chunk, err := br.ReadString('\n')
		line += chunk
		switch {
		case strings.HasSuffix(line, "\n"):
			s.handleLine(line)
			line = ""
		case len(line) > maxLine:
			s.dropFrame(fmt.Errorf("%w: no line end after %d bytes", ErrBadFrame, len(line)))
			line = ""
		}
		if errors.Is(err, io.ErrNoProgress) {
			// Read timeouts with no data; the sensor is quiet, not gone.
			// Whatever part of a line arrived stays in line.
			continue
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
				s.logger.Warnw("heading sensor read stopped", "error", err)
			}
			return
		}
	}
}

// handleLine ignores every message type but yaw/pitch/roll.
func (s *Sensor) handleLine(line string) {
	if !strings.HasPrefix(line, "!y") {
		return
	}
	u, err := ParseYPR(line)
	if err != nil {
		s.dropFrame(err)
		return
	}
	s.update(u.Yaw)
}

func (s *Sensor) dropFrame(err error) {
	s.mu.Lock()
	s.bad++
	s.mu.Unlock()
	s.logger.Debugw("dropping heading frame", "error", err)
}

func (s *Sensor) update(yaw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		s.angle, s.have = yaw, true
	} else {
		s.angle += sensors.NormalizeHeading(yaw - s.lastYaw)
	}
	s.lastYaw = yaw
}

// ReadHeadingDegrees returns the accumulated angle since the last Zero.
func (s *Sensor) ReadHeadingDegrees() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.have {
		return 0, ErrNoData
	}
	return s.angle - s.zero, nil
}

// Zero makes the current angle read as zero.
func (s *Sensor) Zero() {
	s.mu.Lock()
	s.zero = s.angle
	s.mu.Unlock()
}

// BadFrames counts frames dropped for format or checksum errors.
func (s *Sensor) BadFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

func (s *Sensor) Close() error {
	err := s.port.Close()
	<-s.done
	return err
}

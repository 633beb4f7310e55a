// r in rserial stands for "robust"
package rserial

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"sleepywoodpecker/arff-collector/internal/dataset"
)

// MotionPacket is one sample as sent by the IMU bridge, little endian, followed by the stop sequence.
type MotionPacket struct {
	PacketNumber uint32
	Sensor       uint32
	Axes         [3]float32
}

const (
	SensorAccelerometer uint32 = 0
	SensorGyroscope     uint32 = 1
)

var PacketSize = binary.Size(MotionPacket{})

var StopSequence = []byte{'\r', '\n'}

const (
	DEFAULT_RETRY_DELAY       = 10 * time.Millisecond
	MAX_RETRY_DELAY           = time.Second
	MAX_CONSECUTIVE_READ_ERRS = 20
)

// SampleSink receives decoded samples.
type SampleSink interface {
	Ingest(x, y, z float64, sensor dataset.SensorTag) error
}

type port interface {
	io.Reader
	Close() error
}

type rserial struct {
	port          port
	sink          SampleSink
	tempBuff      []byte
	logger        *zap.Logger
	portName      string
	stopSequence  []byte
	rawPacketSize int
	lastPacket    int64
	retryDelay    time.Duration
	maxReadErrors int
}

type OutOfSyncError struct {
	ByteSequence []byte
}

func (e *OutOfSyncError) Error() string {
	return fmt.Sprintf("[rserial] incorrect stop sequence detected: %v", e.ByteSequence)
}

type UnknownSensorError struct {
	Sensor uint32
}

func (e *UnknownSensorError) Error() string {
	return fmt.Sprintf("[rserial] unknown sensor id %d", e.Sensor)
}

// Open opens the serial port and prepares it for reading motion packets.
func Open(portName string, baudrate int, sink SampleSink, logger *zap.Logger) (*rserial, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("[rserial] opening %s: %w", portName, err)
	}
	if err := p.SetReadTimeout(5 * time.Millisecond); err != nil {
		p.Close()
		return nil, fmt.Errorf("[rserial] setting read timeout on %s: %w", portName, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("[rserial] resetting input buffer on %s: %w", portName, err)
	}

	return newRSerial(p, portName, sink, logger), nil
}

func newRSerial(p port, portName string, sink SampleSink, logger *zap.Logger) *rserial {
	rawPacketSize := PacketSize + len(StopSequence)
	return &rserial{
		port:          p,
		sink:          sink,
		tempBuff:      make([]byte, rawPacketSize),
		logger:        logger,
		portName:      portName,
		stopSequence:  StopSequence,
		rawPacketSize: rawPacketSize,
		lastPacket:    -1,
		retryDelay:    DEFAULT_RETRY_DELAY,
		maxReadErrors: MAX_CONSECUTIVE_READ_ERRS,
	}
}

func (r *rserial) Run(ctx context.Context) error {
	defer r.port.Close()

	if err := r.sync(ctx); err != nil {
		return r.exitError(ctx, err)
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			r.logger.Info("[rserial] exiting from rserial read loop", zap.String("portName", r.portName))
			return nil
		}

		err := r.ReadPacket(ctx)
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			continue
		}

		var oosError *OutOfSyncError
		if errors.As(err, &oosError) {
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName), zap.ByteString("payload", oosError.ByteSequence))
			if err := r.sync(ctx); err != nil {
				return r.exitError(ctx, err)
			}
		} else if errors.Is(err, io.EOF) {
			r.logger.Warn("[rserial] port closed", zap.String("portName", r.portName))
			return err
		} else {
			var sensorErr *UnknownSensorError
			r.logger.Warn("[rserial] error while attempting to read packet from serial", zap.Error(err), zap.String("portName", r.portName))
			if errors.As(err, &sensorErr) {
				continue
			}
			failures++
			if err := r.backoff(ctx, failures, err); err != nil {
				return r.exitError(ctx, err)
			}
		}
	}
}

// backoff waits before the next read attempt, doubling the delay per consecutive failure.
// It gives up once maxReadErrors consecutive reads have failed.
func (r *rserial) backoff(ctx context.Context, failures int, cause error) error {
	if failures >= r.maxReadErrors {
		r.logger.Error("[rserial] giving up after consecutive read errors", zap.Error(cause), zap.String("portName", r.portName), zap.Int("failures", failures))
		return fmt.Errorf("[rserial] %d consecutive read errors on %s: %w", failures, r.portName, cause)
	}

	delay := r.retryDelay
	for i := 1; i < failures && delay < MAX_RETRY_DELAY; i++ {
		delay *= 2
	}
	if delay > MAX_RETRY_DELAY {
		delay = MAX_RETRY_DELAY
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadPacket reads one framed packet and hands its sample to the sink.
func (r *rserial) ReadPacket(ctx context.Context) error {
	count := 0
	for count < r.rawPacketSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		// a read timeout returns zero bytes without an error
		n, err := r.port.Read(r.tempBuff[count:])
		if err != nil {
			return err
		}
		count += n
	}

	if !bytes.Equal(r.tempBuff[r.rawPacketSize-len(r.stopSequence):], r.stopSequence) {
		byteSequenceCopy := make([]byte, r.rawPacketSize)
		copy(byteSequenceCopy, r.tempBuff)

		return &OutOfSyncError{
			ByteSequence: byteSequenceCopy,
		}
	}

	packet, err := DecodePacket(r.tempBuff[:PacketSize])
	if err != nil {
		return err
	}

	if r.lastPacket >= 0 && int64(packet.PacketNumber) != r.lastPacket+1 {
		r.logger.Warn("[rserial] packets skipped", zap.String("portName", r.portName), zap.Int64("expected", r.lastPacket+1), zap.Uint32("got", packet.PacketNumber))
	}
	r.lastPacket = int64(packet.PacketNumber)

	tag, err := SensorTag(packet.Sensor)
	if err != nil {
		return err
	}

	if err := r.sink.Ingest(float64(packet.Axes[0]), float64(packet.Axes[1]), float64(packet.Axes[2]), tag); err != nil {
		r.logger.Debug("[rserial] sample not ingested", zap.Error(err), zap.Uint32("packetNumber", packet.PacketNumber))
	}
	return nil
}

func (r *rserial) exitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func DecodePacket(raw []byte) (MotionPacket, error) {
	var packet MotionPacket
	err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &packet)
	return packet, err
}

func SensorTag(id uint32) (dataset.SensorTag, error) {
	switch id {
	case SensorAccelerometer:
		return dataset.Accelerometer, nil
	case SensorGyroscope:
		return dataset.Gyroscope, nil
	}
	return "", &UnknownSensorError{Sensor: id}
}

// sync discards bytes up to and including the next stop sequence terminator.
func (r *rserial) sync(ctx context.Context) error {
	r.logger.Warn("[rserial] resyncing serial port", zap.String("portName", r.portName))
	onebyte := make([]byte, 1)
	last := r.stopSequence[len(r.stopSequence)-1]
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.port.Read(onebyte)
		if err != nil {
			r.logger.Warn("[rserial] error while resyncing serial port", zap.Error(err), zap.String("portName", r.portName))
			if errors.Is(err, io.EOF) {
				return err
			}
			failures++
			if err := r.backoff(ctx, failures, err); err != nil {
				return err
			}
			continue
		}
		failures = 0
		if n == 1 && onebyte[0] == last {
			r.lastPacket = -1
			return nil
		}
	}
}

// Package serialmux drives a serial-attached controller (typically a
// microcontroller acting as a USB HID bridge). Pose lines are written to the
// port; lines read back are fanned out to subscribers and recognised
// commands are dispatched to the tracker.
package serialmux

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/headtrack/internal/monitoring"
	"github.com/banshee-data/headtrack/internal/pointtracker"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Controller is the subset of tracker controls reachable from the device.
type Controller interface {
	Center()
	Reset()
	Pause()
	Resume()
}

// SerialMux is a generic serial port multiplexer: one writer of pose lines,
// many subscribers to the lines the device sends back.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	controller   Controller
	closing      bool
	closingMu    sync.Mutex
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// SetController routes device commands to c. A nil controller ignores them.
func (s *SerialMux[T]) SetController(c Controller) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.controller = c
}

// Subscribe creates a channel receiving every line read from the port. Slow
// subscribers miss lines rather than blocking the reader.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes a single line to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Publish writes one pose line for the sample.
func (s *SerialMux[T]) Publish(sample pointtracker.Sample) error {
	return s.SendCommand(FormatPoseLine(sample))
}

// Monitor reads lines from the serial port until ctx is done or the port
// fails, dispatching commands and fanning lines out to subscribers.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs on its own goroutine so the outer loop can
	// still observe context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.dispatch(line)
		}
	}
}

func (s *SerialMux[T]) dispatch(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	if cmd, ok := ParseCommand(line); ok && s.controller != nil {
		monitoring.Logf("serial command: %s", cmd)
		cmd.apply(s.controller)
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes all subscribed channels and closes the serial port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

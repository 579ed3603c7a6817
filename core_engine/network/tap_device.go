// Package network adapts a Linux TUN/TAP device into the core's
// sinks.NetworkSink contract, so DP8390-family controllers can be bridged to
// a real host interface without any core package depending on syscalls.
package network

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// tapDevice is a raw Linux TUN/TAP file descriptor.
type tapDevice struct {
	fd   int
	name string
}

// openTap opens and configures a TAP interface in Ethernet-frame mode
// (IFF_TAP | IFF_NO_PI: no additional packet-info header on each read).
func openTap(name string) (*tapDevice, error) {
	fd, err := syscall.Open("/dev/net/tun", syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/net/tun: %w", err)
	}

	var ifr struct {
		Name  [16]byte
		Flags uint16
		_     [2]byte
	}
	copy(ifr.Name[:], name)
	ifr.Flags = unix.IFF_TAP | unix.IFF_NO_PI

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr)))
	if errno != 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF for %s: %w", name, errno)
	}
	return &tapDevice{fd: fd, name: name}, nil
}

func (t *tapDevice) read(buf []byte) (int, error) {
	n, err := syscall.Read(t.fd, buf)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", t.name, err)
	}
	return n, nil
}

func (t *tapDevice) write(buf []byte) error {
	if _, err := syscall.Write(t.fd, buf); err != nil {
		return fmt.Errorf("write %s: %w", t.name, err)
	}
	return nil
}

func (t *tapDevice) close() error {
	return syscall.Close(t.fd)
}

// TapSink bridges a host TAP interface to the sinks.NetworkSink contract:
// Transmit writes guest-originated frames onto the interface, and a
// background reader delivers host-originated frames to whichever receiver
// the attached controller registered via SetReceiver.
type TapSink struct {
	tap *tapDevice

	mu       sync.Mutex
	receiver func(frame []byte)
	stop     chan struct{}
	done     chan struct{}
}

// NewTapSink opens the named TAP interface and starts its background
// reader. The interface must already exist and be owned by this process
// (created out of band, e.g. by the host's network setup).
func NewTapSink(ifaceName string) (*TapSink, error) {
	tap, err := openTap(ifaceName)
	if err != nil {
		return nil, err
	}
	s := &TapSink{tap: tap, stop: make(chan struct{}), done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

// Transmit sends a guest-originated Ethernet frame out the TAP interface.
func (s *TapSink) Transmit(frame []byte) error {
	return s.tap.write(frame)
}

// SetReceiver registers the callback invoked with each frame the host
// delivers to the guest.
func (s *TapSink) SetReceiver(rxDeliver func(frame []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = rxDeliver
}

// Close stops the background reader and releases the file descriptor.
func (s *TapSink) Close() error {
	close(s.stop)
	<-s.done
	return s.tap.close()
}

func (s *TapSink) readLoop() {
	defer close(s.done)
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		n, err := s.tap.read(buf)
		if err != nil || n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.mu.Lock()
		r := s.receiver
		s.mu.Unlock()
		if r != nil {
			r(frame)
		}
	}
}

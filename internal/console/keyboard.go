// Package console connects host keyboard input to the guest.
package console

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-tty"
	"golang.org/x/term"
)

// bufferedKeys is how far typing may run ahead of the guest.
const bufferedKeys = 256

// Keyboard is an io.ByteReader fed from a host source and from Feed.
// ReadByte blocks until a byte arrives, and returns io.EOF once the source
// ends or the keyboard is closed.
type Keyboard struct {
	keys   chan byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu     sync.Mutex
	closer io.Closer
}

// NewKeyboard returns a keyboard with no host source. Bytes arrive only
// through Feed.
func NewKeyboard(logger *slog.Logger) *Keyboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyboard{
		keys:   make(chan byte, bufferedKeys),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Open reads keys from the controlling terminal when stdin is one, and
// from stdin otherwise.
func Open(logger *slog.Logger) (*Keyboard, error) {
	k := NewKeyboard(logger)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		k.logger.Debug("stdin is not a terminal, reading keys from it")
		go k.pump(bufio.NewReader(os.Stdin))
		return k, nil
	}

	t, err := tty.Open()
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.closer = t
	k.mu.Unlock()
	go k.pump(ttyReader{t})
	return k, nil
}

// ttyReader adapts go-tty to io.RuneReader.
type ttyReader struct{ t *tty.TTY }

func (r ttyReader) ReadRune() (rune, int, error) {
	ch, err := r.t.ReadRune()
	return ch, 1, err
}

func (k *Keyboard) pump(src io.RuneReader) {
	defer k.Close()
	for {
		r, _, err := src.ReadRune()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-k.done:
				default:
					k.logger.Debug("keyboard source ended", "error", err)
				}
			}
			return
		}
		if r <= 0 || r > 0xFF {
			continue
		}
		if !k.send(byte(r)) {
			return
		}
	}
}

func (k *Keyboard) send(b byte) bool {
	select {
	case k.keys <- b:
		return true
	case <-k.done:
		return false
	}
}

// Feed queues b for the guest. It blocks while the guest is
// bufferedKeys bytes behind and drops b once the keyboard is closed.
func (k *Keyboard) Feed(b byte) { k.send(b) }

func (k *Keyboard) ReadByte() (byte, error) {
	select {
	case b := <-k.keys:
		return b, nil
	case <-k.done:
	}
	// Bytes queued before Close are still delivered.
	select {
	case b := <-k.keys:
		return b, nil
	default:
		return 0, io.EOF
	}
}

// Close ends input and releases the terminal. Pending reads return
// io.EOF.
func (k *Keyboard) Close() error {
	var err error
	k.once.Do(func() {
		close(k.done)
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.closer != nil {
			err = k.closer.Close()
			k.closer = nil
		}
	})
	return err
}

var _ io.ByteReader = &Keyboard{}

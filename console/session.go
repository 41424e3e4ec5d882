package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Telnet command bytes that may arrive inline from a client.
const (
	IAC  = 255
	DONT = 254
	DO   = 253
	WONT = 252
	WILL = 251
	SB   = 250
	SE   = 240
)

var errLineTooLong = errors.New("console: line too long")

type session struct {
	reader    *bufio.Reader
	writer    *bufio.Writer
	crlf      bool
	lineLimit int
	// skipNextEOL swallows the LF or NUL that may follow a CR terminator.
	skipNextEOL bool
}

// ServeStream runs the console loop over an arbitrary reader and writer, as
// used for the local stdin console. It returns when the reader is exhausted
// or the operator types BYE.
func ServeStream(r io.Reader, w io.Writer, processor LineProcessor, greeting string) string {
	sess := &session{
		reader:    bufio.NewReader(r),
		writer:    bufio.NewWriter(w),
		lineLimit: defaultLineLimit,
	}
	return sess.serve(processor, greeting)
}

// serve runs the read/dispatch loop and reports why it stopped.
func (c *session) serve(processor LineProcessor, greeting string) string {
	if greeting != "" {
		if err := c.send(greeting + "\n"); err != nil {
			return err.Error()
		}
	}
	for {
		if err := c.sendRaw(prompt); err != nil {
			return err.Error()
		}
		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				if err := c.send(fmt.Sprintf("Input longer than %d bytes ignored.\n", c.lineLimit)); err != nil {
					return err.Error()
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return "eof"
			}
			return err.Error()
		}
		resp := processor.ProcessCommand(line)
		if resp == "BYE" {
			_ = c.send("Goodbye.\n")
			return "bye"
		}
		if resp != "" {
			if err := c.send(resp); err != nil {
				return err.Error()
			}
		}
	}
}

// readLine returns one line without its terminator. Telnet negotiation is
// consumed, BS/DEL edit the buffer, and other control bytes are dropped.
// An over-long line is drained to its terminator and reported as
// errLineTooLong.
func (c *session) readLine() (string, error) {
	var line []byte
	overflow := false
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !overflow {
				return string(line), nil
			}
			return "", err
		}
		if c.skipNextEOL {
			c.skipNextEOL = false
			if b == '\n' || b == 0x00 {
				continue
			}
		}
		switch {
		case b == IAC:
			if err := c.consumeIACSequence(); err != nil {
				return "", err
			}
			continue
		case b == '\n':
		case b == '\r':
			c.skipNextEOL = true
		case b == 0x08 || b == 0x7f:
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			continue
		case b < 0x20:
			continue
		default:
			if len(line) >= c.lineLimit {
				overflow = true
				continue
			}
			line = append(line, b)
			continue
		}
		if overflow {
			return "", errLineTooLong
		}
		return string(line), nil
	}
}

// consumeIACSequence drains a single telnet command so it never reaches the
// processor.
func (c *session) consumeIACSequence() error {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case DO, DONT, WILL, WONT:
		_, err = c.reader.ReadByte()
		return err
	case SB:
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if b != IAC {
				continue
			}
			next, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if next == SE {
				return nil
			}
		}
	default:
		return nil
	}
}

func (c *session) send(text string) error {
	if c.crlf {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	return c.sendRaw(text)
}

func (c *session) sendRaw(text string) error {
	if _, err := c.writer.WriteString(text); err != nil {
		return err
	}
	return c.writer.Flush()
}

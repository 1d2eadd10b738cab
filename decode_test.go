package websocket

import (
	"bytes"
	"errors"
	"testing"
)

type frameTestCase struct {
	name  string
	role  Role
	bytes []byte
	frame Frame
}

var (
	frameTestCases []frameTestCase = []frameTestCase{
		{
			name: "masked text on server",
			role: RoleServer,
			bytes: []byte{
				0x81, 0x85, 0x37, 0xFA, 0x21, 0x3D, 0x7F, 0x9F, 0x4D, 0x51, 0x58,
			},
			frame: Frame{
				Fin:     true,
				Opcode:  OpText,
				Masked:  true,
				Payload: []byte("Hello"),
			},
		},
		{
			name: "unmasked text on client",
			role: RoleClient,
			bytes: []byte{
				0x81, 0x05, 0x57, 0x6F, 0x72, 0x6C, 0x64,
			},
			frame: Frame{
				Fin:     true,
				Opcode:  OpText,
				Masked:  false,
				Payload: []byte("World"),
			},
		},
		{
			name: "masked empty ping on server",
			role: RoleServer,
			bytes: []byte{
				0x89, 0x80, 0x01, 0x02, 0x03, 0x04,
			},
			frame: Frame{
				Fin:     true,
				Opcode:  OpPing,
				Masked:  true,
				Payload: []byte{},
			},
		},
		{
			name: "non minimal 16 bit length",
			role: RoleClient,
			bytes: []byte{
				0x82, 0x7E, 0x00, 0x03, 0x01, 0x02, 0x03,
			},
			frame: Frame{
				Fin:     true,
				Opcode:  OpBinary,
				Payload: []byte{0x01, 0x02, 0x03},
			},
		},
	}
)

func assertFrame(t *testing.T, actual, expected Frame) {
	t.Helper()

	if actual.Fin != expected.Fin || actual.Opcode != expected.Opcode || actual.Masked != expected.Masked ||
		!bytes.Equal(actual.Payload, expected.Payload) {
		t.Errorf("decoded frame {Fin:%v Opcode:%s Masked:%v len:%d}, ERROR expected {Fin:%v Opcode:%s Masked:%v len:%d}",
			actual.Fin, actual.Opcode, actual.Masked, len(actual.Payload),
			expected.Fin, expected.Opcode, expected.Masked, len(expected.Payload))
	}
}

func feedAll(t *testing.T, d *Decoder, chunks ...[]byte) []Frame {
	t.Helper()

	var frames []Frame
	for _, chunk := range chunks {
		out, err := d.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed(%v), ERROR returned unexpected error %q", chunk, err)
		}
		frames = append(frames, out...)
	}
	return frames
}

func TestDecoderFrames(t *testing.T) {
	for _, tc := range frameTestCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDecoder(tc.role, DecoderOptions{})

			frames := feedAll(t, d, bytes.Clone(tc.bytes))
			if len(frames) != 1 {
				t.Fatalf("Feed(%v) produced %d frames, ERROR expected 1", tc.bytes, len(frames))
			}
			assertFrame(t, frames[0], tc.frame)

			if d.Buffered() != 0 {
				t.Errorf("Buffered() = %d after complete frame, ERROR expected 0", d.Buffered())
			}
		})
	}
}

func TestDecoderSequential(t *testing.T) {
	var sequence []byte
	for _, tc := range frameTestCases {
		if tc.role == RoleServer {
			sequence = append(sequence, tc.bytes...)
		}
	}

	d := NewDecoder(RoleServer, DecoderOptions{})
	frames := feedAll(t, d, sequence)

	var expected []Frame
	for _, tc := range frameTestCases {
		if tc.role == RoleServer {
			expected = append(expected, tc.frame)
		}
	}

	if len(frames) != len(expected) {
		t.Fatalf("Feed(sequence) produced %d frames, ERROR expected %d", len(frames), len(expected))
	}
	for i := range frames {
		assertFrame(t, frames[i], expected[i])
	}
}

func TestDecoderEverySplitPoint(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 30)
	wire, err := NewEncoder(RoleClient).EncodeFrame(true, OpBinary, payload)
	if err != nil {
		t.Fatalf("EncodeFrame() ERROR returned unexpected error %q", err)
	}

	whole := feedAll(t, NewDecoder(RoleServer, DecoderOptions{}), wire)
	if len(whole) != 1 {
		t.Fatalf("Feed(whole) produced %d frames, ERROR expected 1", len(whole))
	}

	for split := 0; split <= len(wire); split++ {
		d := NewDecoder(RoleServer, DecoderOptions{})

		first, err := d.Feed(wire[:split])
		if err != nil {
			t.Fatalf("split %d: Feed(first) ERROR returned unexpected error %q", split, err)
		}
		if split < len(wire) && len(first) != 0 {
			t.Fatalf("split %d: Feed(first) produced %d frames from a partial frame, ERROR expected 0", split, len(first))
		}

		second, err := d.Feed(wire[split:])
		if err != nil {
			t.Fatalf("split %d: Feed(second) ERROR returned unexpected error %q", split, err)
		}

		frames := append(first, second...)
		if len(frames) != 1 {
			t.Fatalf("split %d: produced %d frames, ERROR expected 1", split, len(frames))
		}
		assertFrame(t, frames[0], whole[0])
	}
}

func TestDecoderByteByByte(t *testing.T) {
	enc := NewEncoder(RoleClient)

	var wire []byte
	var err error
	wire, err = enc.AppendFrame(wire, true, OpText, []byte("first"))
	if err != nil {
		t.Fatal(err)
	}
	wire, err = enc.AppendFrame(wire, true, OpBinary, bytes.Repeat([]byte{0xAB}, 70000))
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(RoleServer, DecoderOptions{})
	var frames []Frame
	for i := range wire {
		out, err := d.Feed(wire[i : i+1])
		if err != nil {
			t.Fatalf("Feed(byte %d) ERROR returned unexpected error %q", i, err)
		}
		frames = append(frames, out...)
	}

	if len(frames) != 2 {
		t.Fatalf("byte by byte produced %d frames, ERROR expected 2", len(frames))
	}
	assertFrame(t, frames[0], Frame{Fin: true, Opcode: OpText, Masked: true, Payload: []byte("first")})
	assertFrame(t, frames[1], Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: bytes.Repeat([]byte{0xAB}, 70000)})
}

func TestDecoderProtocolErrors(t *testing.T) {
	key := []byte{0x01, 0x02, 0x03, 0x04}
	masked := func(b ...byte) []byte {
		return append(b, key...)
	}

	tests := []struct {
		name  string
		role  Role
		input []byte
		code  CloseCode
	}{
		{"reserved data opcode", RoleServer, masked(0x83, 0x80), CloseProtocolError},
		{"reserved control opcode", RoleServer, masked(0x8B, 0x80), CloseProtocolError},
		{"rsv1 set", RoleServer, masked(0xC1, 0x80), CloseProtocolError},
		{"rsv3 set", RoleServer, masked(0x91, 0x80), CloseProtocolError},
		{"unmasked frame on server", RoleServer, []byte{0x81, 0x00}, CloseProtocolError},
		{"masked frame on client", RoleClient, masked(0x81, 0x80), CloseProtocolError},
		{"ping too long", RoleServer, []byte{0x89, 0xFE, 0x00, 0x7E}, CloseProtocolError},
		{"close too long", RoleClient, []byte{0x88, 0x7E, 0x00, 0x7E}, CloseProtocolError},
		{"fragmented ping", RoleServer, masked(0x09, 0x80), CloseProtocolError},
		{"64 bit length high bit", RoleClient, []byte{0x82, 0x7F, 0x80, 0, 0, 0, 0, 0, 0, 0}, CloseProtocolError},
		{"continuation without message", RoleServer, masked(0x80, 0x80), CloseProtocolError},
		{"text during fragmented message", RoleServer, append(masked(0x01, 0x80), masked(0x81, 0x80)...), CloseProtocolError},
		{"binary during fragmented message", RoleClient, []byte{0x02, 0x00, 0x82, 0x00}, CloseProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(tt.role, DecoderOptions{})

			frames, err := d.Feed(tt.input)
			if err == nil {
				t.Fatalf("Feed(%v) = %d frames, ERROR expected protocol error", tt.input, len(frames))
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Feed(%v) error %q, ERROR expected ErrProtocol", tt.input, err)
			}

			var pe *ProtocolError
			if !errors.As(err, &pe) || pe.Code != tt.code {
				t.Errorf("Feed(%v) error %v, ERROR expected close code %d", tt.input, err, tt.code)
			}
		})
	}
}

func TestDecoderFragmentedMessage(t *testing.T) {
	enc := NewEncoder(RoleClient)

	var wire []byte
	for _, part := range []struct {
		fin     bool
		opcode  Opcode
		payload string
	}{
		{false, OpText, "Hel"},
		{true, OpPing, "p"},
		{false, OpContinuation, "lo"},
		{true, OpContinuation, " world"},
		{true, OpBinary, "next"},
	} {
		var err error
		wire, err = enc.AppendFrame(wire, part.fin, part.opcode, []byte(part.payload))
		if err != nil {
			t.Fatalf("AppendFrame(%+v) ERROR returned unexpected error %q", part, err)
		}
	}

	d := NewDecoder(RoleServer, DecoderOptions{})
	frames := feedAll(t, d, wire[:7], wire[7:])

	if len(frames) != 3 {
		t.Fatalf("fragmented sequence produced %d frames, ERROR expected 3", len(frames))
	}
	assertFrame(t, frames[0], Frame{Fin: true, Opcode: OpPing, Masked: true, Payload: []byte("p")})
	assertFrame(t, frames[1], Frame{Fin: true, Opcode: OpText, Masked: true, Payload: []byte("Hello world")})
	assertFrame(t, frames[2], Frame{Fin: true, Opcode: OpBinary, Masked: true, Payload: []byte("next")})

	if d.InMessage() {
		t.Errorf("InMessage() = true after final fragment, ERROR expected false")
	}
}

func TestDecoderMaxMessageSize(t *testing.T) {
	enc := NewEncoder(RoleClient)

	single, _ := enc.EncodeFrame(true, OpBinary, make([]byte, 11))
	_, err := NewDecoder(RoleServer, DecoderOptions{MaxMessageSize: 10}).Feed(single)
	assertTooBig(t, err)

	var fragmented []byte
	fragmented, _ = enc.AppendFrame(fragmented, false, OpText, []byte("123456"))
	fragmented, _ = enc.AppendFrame(fragmented, true, OpContinuation, []byte("123456"))
	_, err = NewDecoder(RoleServer, DecoderOptions{MaxMessageSize: 10}).Feed(fragmented)
	assertTooBig(t, err)

	exact, _ := enc.EncodeFrame(true, OpBinary, make([]byte, 10))
	frames, err := NewDecoder(RoleServer, DecoderOptions{MaxMessageSize: 10}).Feed(exact)
	if err != nil || len(frames) != 1 {
		t.Errorf("Feed(10 bytes) = %d frames, %v, ERROR expected 1 frame within the limit", len(frames), err)
	}
}

func assertTooBig(t *testing.T, err error) {
	t.Helper()

	if !errors.Is(err, ErrMessageTooBig) {
		t.Fatalf("Feed() error %v, ERROR expected ErrMessageTooBig", err)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != CloseMessageTooBig {
		t.Errorf("Feed() error %v, ERROR expected close code %d", err, CloseMessageTooBig)
	}
}

func TestDecoderStaysFailed(t *testing.T) {
	d := NewDecoder(RoleServer, DecoderOptions{})

	_, first := d.Feed([]byte{0x81, 0x00})
	if first == nil {
		t.Fatalf("Feed(unmasked) ERROR expected error")
	}

	valid := frameTestCases[0].bytes
	frames, again := d.Feed(bytes.Clone(valid))
	if again != first || len(frames) != 0 {
		t.Errorf("Feed after failure = %d frames, %v, ERROR expected 0 frames and %v", len(frames), again, first)
	}
}

func TestDecoderReturnsFramesBeforeError(t *testing.T) {
	wire := append(bytes.Clone(frameTestCases[0].bytes), 0x83, 0x80, 0, 0, 0, 0)

	frames, err := NewDecoder(RoleServer, DecoderOptions{}).Feed(wire)
	if err == nil {
		t.Fatalf("Feed() ERROR expected error for the reserved opcode")
	}
	if len(frames) != 1 {
		t.Fatalf("Feed() returned %d frames, ERROR expected the 1 frame preceding the error", len(frames))
	}
	assertFrame(t, frames[0], frameTestCases[0].frame)
}

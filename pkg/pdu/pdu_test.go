package pdu

import (
	"bytes"
	"testing"
)

func TestSerializeOpenChannel(t *testing.T) {
	got := OpenChannel(ProtocolRaw, 500000, 1000, 0).Serialize()
	want := []byte{0x1F, 0x30, 0x00, 0x06, 0x00, 0x00, 0x07, 0xA1, 0x20, 0x10}
	if !bytes.Equal(got, want) {
		t.Errorf("OpenChannel() = % X, want % X", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"empty ok", Ok()},
		{"ping with payload", Ping([]byte{0x01, 0x02, 0x03})},
		{"close channel", CloseChannel(0x07)},
		{"send", Send(1, []byte{0xDE, 0xAD, 0xBE, 0xEF})},
		{"received", Received(1, 0x7E8, 0, []byte{0x02, 0x41, 0x0C})},
		{"reset", Reset()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := tt.pdu.Serialize()
			got, n := Parse(wire)
			if n != len(wire) {
				t.Fatalf("Parse() consumed %d, want %d", n, len(wire))
			}
			if got.Type != tt.pdu.Type {
				t.Errorf("Parse() type = %02X, want %02X", uint8(got.Type), uint8(tt.pdu.Type))
			}
			if !bytes.Equal(got.Payload, tt.pdu.Payload) {
				t.Errorf("Parse() payload = % X, want % X", got.Payload, tt.pdu.Payload)
			}
		})
	}
}

func TestParseResync(t *testing.T) {
	// Garbage, then an empty Ok, then a Pong with one payload byte.
	buf := []byte{0xAB, 0xCD, 0x1F, 0x80, 0x00, 0x00, 0x1F, 0x90, 0x00, 0x01, 0x42}

	var parsed []PDU
	for len(buf) > 0 {
		p, n := Parse(buf)
		if n == 0 {
			break
		}
		if n < 0 {
			buf = buf[-n:]
			continue
		}
		parsed = append(parsed, p)
		buf = buf[n:]
	}

	if len(parsed) != 2 {
		t.Fatalf("parsed %d PDUs, want 2", len(parsed))
	}
	if parsed[0].Type != TypeOk || len(parsed[0].Payload) != 0 {
		t.Errorf("first PDU = %+v, want empty Ok", parsed[0])
	}
	if parsed[1].Type != TypePong || !bytes.Equal(parsed[1].Payload, []byte{0x42}) {
		t.Errorf("second PDU = %+v, want Pong [42]", parsed[1])
	}
}

func TestParseNeedMore(t *testing.T) {
	full := Ping([]byte{1, 2, 3, 4}).Serialize()
	for i := 1; i < len(full); i++ {
		if _, n := Parse(full[:i]); n != 0 {
			t.Errorf("Parse(%d bytes) = %d, want 0", i, n)
		}
	}
}

func TestArbitrationRoundTrip(t *testing.T) {
	arb := Arbitration{
		Request:          0x7E0,
		RequestExtension: 0x01,
		ReplyPattern:     0x7E8,
		ReplyMask:        0xFFFFFFFF,
		ReplyExtension:   0x02,
	}
	wire := arb.Serialize()
	if len(wire) != ArbitrationSize {
		t.Fatalf("serialized size = %d, want %d", len(wire), ArbitrationSize)
	}
	got, ok := ParseArbitration(wire)
	if !ok {
		t.Fatal("ParseArbitration failed")
	}
	if got != arb {
		t.Errorf("round trip = %+v, want %+v", got, arb)
	}
}

func TestSeparationTimeCodes(t *testing.T) {
	tests := []struct {
		micros uint16
		code   SeparationTimeCode
		back   uint16
	}{
		{0, 0x00, 0},
		{99, 0x00, 0},
		{100, 0x07, 100},
		{150, 0x07, 100},
		{900, 0x0F, 900},
		{1000, 0x01, 1000},
		{2500, 0x02, 2000},
		{6000, 0x06, 6000},
		{60000, 0x06, 6000},
	}
	for _, tt := range tests {
		if got := SeparationTimeCodeFromMicros(tt.micros); got != tt.code {
			t.Errorf("SeparationTimeCodeFromMicros(%d) = %#02x, want %#02x", tt.micros, uint8(got), uint8(tt.code))
		}
		if got := tt.code.Micros(); got != tt.back {
			t.Errorf("(%#02x).Micros() = %d, want %d", uint8(tt.code), got, tt.back)
		}
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x55, 0xAA, 0x00, 0xFF}, 300)

	p, err := SendCompressed(3, data)
	if err != nil {
		t.Fatal(err)
	}
	if p.ChannelHandle() != 3 {
		t.Errorf("handle = %d, want 3", p.ChannelHandle())
	}
	got, err := p.UncompressedData()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("uncompressed data does not match input")
	}

	rp, err := ReceivedCompressed(3, 0x123, 0, data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := rp.ReceivedFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame.ID != 0x123 || !bytes.Equal(frame.Data, data) {
		t.Errorf("received frame mismatch: id=%X len=%d", frame.ID, len(frame.Data))
	}
}

func TestCompressIncompressible(t *testing.T) {
	// Short, high-entropy input that LZ4 cannot shrink still round-trips.
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	p, err := SendCompressed(1, data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.UncompressedData()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip = % X, want % X", got, data)
	}
}

func TestDeviceInfoDecode(t *testing.T) {
	p := Info(DeviceInfo{
		Vendor:   "ECUconnect",
		Model:    "EC100",
		Hardware: "rev C",
		Serial:   "0042",
		Firmware: "1.2.3",
	})
	info := p.DeviceInfo()
	if info.Vendor != "ECUconnect" || info.Firmware != "1.2.3" {
		t.Errorf("DeviceInfo() = %+v", info)
	}
}

func TestSendBatchLayout(t *testing.T) {
	p := SendBatch(2, [][]byte{{0xAA}, {0xBB, 0xCC}})
	want := []byte{0x02, 0x01, 0xAA, 0x02, 0xBB, 0xCC}
	if !bytes.Equal(p.Payload, want) {
		t.Errorf("SendBatch payload = % X, want % X", p.Payload, want)
	}
}

func TestIsError(t *testing.T) {
	for tag := 0xE0; tag <= 0xEF; tag++ {
		if !(PDU{Type: Type(tag)}).IsError() {
			t.Errorf("tag %02X not classified as error", tag)
		}
	}
	for _, tag := range []Type{TypeOk, TypePong, TypeReceived, TypeSend} {
		if (PDU{Type: tag}).IsError() {
			t.Errorf("tag %02X wrongly classified as error", uint8(tag))
		}
	}
}

func TestStartPeriodicMessageLayout(t *testing.T) {
	arb := Arbitration{Request: 0x700, ReplyMask: 0xFFFFFFFF}
	p := StartPeriodicMessage(20, arb, []byte{0x01, 0x02})
	if p.Payload[0] != 20 {
		t.Errorf("interval byte = %d, want 20", p.Payload[0])
	}
	if len(p.Payload) != 1+ArbitrationSize+2 {
		t.Errorf("payload length = %d, want %d", len(p.Payload), 1+ArbitrationSize+2)
	}
	got, _ := ParseArbitration(p.Payload[1:])
	if got != arb {
		t.Errorf("embedded arbitration = %+v, want %+v", got, arb)
	}
}

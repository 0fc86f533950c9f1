package slave

import (
	"bytes"
	"io"
	"testing"
)

func TestReader_LessThanMaxPacketSize(t *testing.T) {
	first, firstPayload := newPacket(10, 0)
	last, _ := newPacket(0, 1)
	var seq uint8
	r := newReader(io.MultiReader(
		bytes.NewReader(first),
		bytes.NewReader(last),
		bytes.NewReader(make([]byte, 10)),
	), &seq)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, firstPayload) {
		t.Log(" got: ", got)
		t.Log("want: ", firstPayload)
		t.Fatal("payload did not match")
	}
}

func TestReader_MultipleOfMaxPayloadSize(t *testing.T) {
	first, firstPayload := newPacket(maxPacketSize, 0)
	second, secondPayload := newPacket(maxPacketSize, 1)
	last, _ := newPacket(0, 2)
	var seq uint8
	r := newReader(io.MultiReader(
		bytes.NewReader(first),
		bytes.NewReader(second),
		bytes.NewReader(last),
		bytes.NewReader(make([]byte, 10)),
	), &seq)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:maxPacketSize], firstPayload) {
		t.Fatal("first payload did not match")
	}
	if !bytes.Equal(got[maxPacketSize:], secondPayload) {
		t.Fatal("second payload did not match")
	}
}

func TestReader_stringNull(t *testing.T) {
	data := append([]byte("hello"), 0)
	data = append(append(data, []byte("world")...), 0)
	packet := newPacketData(data)
	var seq uint8
	r := newReader(bytes.NewReader(packet), &seq)

	s := r.stringNull()
	if r.err != nil {
		t.Fatal(r.err)
	}
	if s != "hello" {
		t.Fatal("got", s, "want", "hello")
	}

	s = r.stringNull()
	if r.err != nil {
		t.Fatal(r.err)
	}
	if s != "world" {
		t.Fatal("got", s, "want", "world")
	}
}

func TestReader_intN(t *testing.T) {
	tests := []struct {
		data []byte
		want uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0xfa}, 250},
		{[]byte{0xfc, 0xfb, 0x00}, 251},
		{[]byte{0xfc, 0x34, 0x12}, 0x1234},
		{[]byte{0xfd, 0x56, 0x34, 0x12}, 0x123456},
		{[]byte{0xfe, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, 0x1122334455667788},
	}
	for _, tc := range tests {
		var seq uint8
		r := newReader(bytes.NewReader(newPacketData(tc.data)), &seq)
		if got := r.intN(); got != tc.want {
			t.Errorf("intN(% x) = %d, want %d", tc.data, got, tc.want)
		}
		if r.err != nil {
			t.Errorf("intN(% x) err = %v", tc.data, r.err)
		}
	}
}

func TestReader_fixedIntsAreLittleEndian(t *testing.T) {
	data := []byte{
		0x01,
		0x02, 0x01,
		0x03, 0x02, 0x01,
		0x04, 0x03, 0x02, 0x01,
		0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
	}
	var seq uint8
	r := newReader(bytes.NewReader(newPacketData(data)), &seq)
	if got := r.int1(); got != 0x01 {
		t.Fatalf("int1 = %#x", got)
	}
	if got := r.int2(); got != 0x0102 {
		t.Fatalf("int2 = %#x", got)
	}
	if got := r.int3(); got != 0x010203 {
		t.Fatalf("int3 = %#x", got)
	}
	if got := r.int4(); got != 0x01020304 {
		t.Fatalf("int4 = %#x", got)
	}
	if got := r.int6(); got != 0x010203040506 {
		t.Fatalf("int6 = %#x", got)
	}
	if got := r.int8(); got != 0x0102030405060708 {
		t.Fatalf("int8 = %#x", got)
	}
	if r.err != nil {
		t.Fatal(r.err)
	}
}

func TestReader_limitRejectsShortFrame(t *testing.T) {
	var seq uint8
	r := newReader(bytes.NewReader(newPacketData([]byte{1, 2, 3})), &seq)
	r.limit = 2
	if r.int4(); r.err != ErrMalformedFrame {
		t.Fatalf("err = %v, want ErrMalformedFrame", r.err)
	}
}

package mqttsn

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestMarshal_WireBytes(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
		want []byte
	}{
		{
			name: "connect",
			pkt:  Connect{Flags: FlagCleanSession | FlagWill, Duration: 360, ClientID: "node"},
			want: []byte{0x0A, 0x04, 0x0C, 0x01, 0x01, 0x68, 'n', 'o', 'd', 'e'},
		},
		{
			name: "register",
			pkt:  Register{MsgID: 7, TopicName: "out"},
			want: []byte{0x09, 0x0A, 0x00, 0x00, 0x00, 0x07, 'o', 'u', 't'},
		},
		{
			name: "publish qos0",
			pkt:  Publish{TopicID: 0x0102, Data: []byte("hi")},
			want: []byte{0x09, 0x0C, 0x00, 0x01, 0x02, 0x00, 0x00, 'h', 'i'},
		},
		{
			name: "subscribe by name",
			pkt:  Subscribe{Flags: FlagQoS1, MsgID: 2, TopicName: "in/x"},
			want: []byte{0x09, 0x12, 0x20, 0x00, 0x02, 'i', 'n', '/', 'x'},
		},
		{
			name: "pubrel",
			pkt:  MsgIDOnly{T: PUBREL, MsgID: 0x1234},
			want: []byte{0x04, 0x10, 0x12, 0x34},
		},
		{
			name: "empty will topic",
			pkt:  WillTopic{},
			want: []byte{0x02, 0x07},
		},
		{
			name: "plain disconnect",
			pkt:  Disconnect{},
			want: []byte{0x02, 0x18},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.pkt)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Marshal() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestMarshal_LongHeader(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 300)
	b, err := Marshal(Publish{TopicID: 1, Data: data})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if b[0] != 0x01 {
		t.Fatalf("first octet = 0x%02X, want 0x01", b[0])
	}
	if n := int(b[1])<<8 | int(b[2]); n != len(b) {
		t.Errorf("length field = %d, want %d", n, len(b))
	}

	p, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got := p.(Publish).Data; !bytes.Equal(got, data) {
		t.Errorf("payload length %d, want %d", len(got), len(data))
	}
}

func TestMarshal_Overflow(t *testing.T) {
	_, err := Marshal(Publish{Data: make([]byte, 0x10000)})
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("Marshal() error = %v, want ErrOverflow", err)
	}
}

func TestUnmarshal_Decodes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want Packet
	}{
		{"connack", []byte{0x03, 0x05, 0x00}, Connack{ReturnCode: Accepted}},
		{"willtopicreq", []byte{0x02, 0x06}, WillTopicReq{}},
		{"willmsgreq", []byte{0x02, 0x08}, WillMsgReq{}},
		{"regack", []byte{0x07, 0x0B, 0x00, 0x05, 0x00, 0x01, 0x00}, Regack{TopicID: 5, MsgID: 1}},
		{"suback", []byte{0x08, 0x13, 0x20, 0x00, 0x09, 0x00, 0x03, 0x02}, Suback{Flags: FlagQoS1, TopicID: 9, MsgID: 3, ReturnCode: RejectedTopicID}},
		{"publish", []byte{0x09, 0x0C, 0x20, 0x00, 0x09, 0x00, 0x04, 'O', 'N'}, Publish{Flags: FlagQoS1, TopicID: 9, MsgID: 4, Data: []byte("ON")}},
		{"pubcomp", []byte{0x04, 0x0E, 0x00, 0x08}, MsgIDOnly{T: PUBCOMP, MsgID: 8}},
		{"unsuback", []byte{0x04, 0x15, 0x00, 0x02}, MsgIDOnly{T: UNSUBACK, MsgID: 2}},
		{"pingresp", []byte{0x02, 0x17}, Pingresp{}},
		{"sleep disconnect", []byte{0x04, 0x18, 0x00, 0x3C}, Disconnect{Duration: 60}},
		{"unsubscribe", []byte{0x07, 0x14, 0x00, 0x00, 0x03, 'a', 'b'}, Unsubscribe{MsgID: 3, TopicName: "ab"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unmarshal(tt.in)
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Unmarshal() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"single octet", []byte{0x02}},
		{"length mismatch", []byte{0x05, 0x05, 0x00}},
		{"short regack", []byte{0x04, 0x0B, 0x00, 0x01}},
		{"bad protocol id", []byte{0x06, 0x04, 0x04, 0x02, 0x00, 0x0A}},
		{"unknown type", []byte{0x02, 0xFE}},
		{"truncated long header", []byte{0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.in); !errors.Is(err, ErrMalformed) {
				t.Errorf("Unmarshal() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestFlags_QoS(t *testing.T) {
	for _, qos := range []int{0, 1, 2} {
		if got := QoSFlag(qos).QoS(); got != qos {
			t.Errorf("QoSFlag(%d).QoS() = %d", qos, got)
		}
	}
	if got := FlagQoSM1.QoS(); got != -1 {
		t.Errorf("FlagQoSM1.QoS() = %d, want -1", got)
	}
	if got := QoSFlag(7); got != FlagQoS0 {
		t.Errorf("QoSFlag(7) = 0x%02X, want QoS 0", byte(got))
	}
}

func TestReturnCodeError(t *testing.T) {
	err := checkCode(SUBSCRIBE, RejectedCongested)
	var rc *ReturnCodeError
	if !errors.As(err, &rc) {
		t.Fatalf("checkCode() = %v, want *ReturnCodeError", err)
	}
	if rc.Code != RejectedCongested || !strings.Contains(err.Error(), "congestion") {
		t.Errorf("error = %q", err)
	}
	if checkCode(CONNECT, Accepted) != nil {
		t.Error("checkCode(Accepted) != nil")
	}
}

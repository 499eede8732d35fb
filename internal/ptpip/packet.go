package ptpip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultPort is the IANA-assigned PTP/IP port.
const DefaultPort = 15740

// packetType is the PTP/IP packet type field.
type packetType uint32

const (
	pktInitCommandRequest packetType = 1
	pktInitCommandAck     packetType = 2
	pktInitEventRequest   packetType = 3
	pktInitEventAck       packetType = 4
	pktInitFail           packetType = 5
	pktOperationRequest   packetType = 6
	pktOperationResponse  packetType = 7
	pktEvent              packetType = 8
	pktStartData          packetType = 9
	pktData               packetType = 10
	pktCancel             packetType = 11
	pktEndData            packetType = 12
	pktProbeRequest       packetType = 13
	pktProbeResponse      packetType = 14
)

// headerSize is the length+type prefix of every packet.
const headerSize = 8

// maxPacketSize bounds a single packet. Object data is split across Data
// packets by the responder so this only guards against garbage lengths.
const maxPacketSize = 64 << 20

// protocolVersion is PTP/IP 1.0.
const protocolVersion = 0x00010000

// Data phase info in OperationRequest.
const (
	dataPhaseNone uint32 = 1
	dataPhaseOut  uint32 = 2
)

// maxDataChunk is the payload size of outgoing Data packets.
const maxDataChunk = 32 << 10

// OpCode is a PTP operation code.
type OpCode uint16

// Operation codes used by the client.
const (
	OpGetDeviceInfo     OpCode = 0x1001
	OpOpenSession       OpCode = 0x1002
	OpCloseSession      OpCode = 0x1003
	OpGetStorageIDs     OpCode = 0x1004
	OpGetStorageInfo    OpCode = 0x1005
	OpGetObjectHandles  OpCode = 0x1007
	OpGetObjectInfo     OpCode = 0x1008
	OpGetObject         OpCode = 0x1009
	OpSdioGetAllExtInfo OpCode = 0x96F6
	OpSdioControlDevice OpCode = 0x96F8
	OpSdioSetExtProp    OpCode = 0x96FA
	OpSdioGetExtDevInfo OpCode = 0x96FD
	OpSdioConnect       OpCode = 0x96FE
)

var opNames = map[OpCode]string{
	OpGetDeviceInfo:     "GetDeviceInfo",
	OpOpenSession:       "OpenSession",
	OpCloseSession:      "CloseSession",
	OpGetStorageIDs:     "GetStorageIDs",
	OpGetStorageInfo:    "GetStorageInfo",
	OpGetObjectHandles:  "GetObjectHandles",
	OpGetObjectInfo:     "GetObjectInfo",
	OpGetObject:         "GetObject",
	OpSdioGetAllExtInfo: "SDIOGetAllExtDevicePropInfo",
	OpSdioControlDevice: "SDIOControlDevice",
	OpSdioSetExtProp:    "SDIOSetExtDevicePropValue",
	OpSdioGetExtDevInfo: "SDIOGetExtDeviceInfo",
	OpSdioConnect:       "SDIOConnect",
}

func (o OpCode) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(0x%04X)", uint16(o))
}

// ResponseCode is a PTP response code.
type ResponseCode uint16

// Response codes the client distinguishes.
const (
	RespOK                  ResponseCode = 0x2001
	RespGeneralError        ResponseCode = 0x2002
	RespSessionNotOpen      ResponseCode = 0x2003
	RespOperationNotSupp    ResponseCode = 0x2005
	RespParameterNotSupp    ResponseCode = 0x2006
	RespDeviceBusy          ResponseCode = 0x2019
	RespInvalidObjectHandle ResponseCode = 0x2009
	RespSessionAlreadyOpen  ResponseCode = 0x201E
)

var respNames = map[ResponseCode]string{
	RespOK:                  "OK",
	RespGeneralError:        "GeneralError",
	RespSessionNotOpen:      "SessionNotOpen",
	RespOperationNotSupp:    "OperationNotSupported",
	RespParameterNotSupp:    "ParameterNotSupported",
	RespDeviceBusy:          "DeviceBusy",
	RespInvalidObjectHandle: "InvalidObjectHandle",
	RespSessionAlreadyOpen:  "SessionAlreadyOpen",
}

func (r ResponseCode) String() string {
	if n, ok := respNames[r]; ok {
		return n
	}
	return fmt.Sprintf("response(0x%04X)", uint16(r))
}

// packet is one framed PTP/IP packet.
type packet struct {
	typ     packetType
	payload []byte
}

// readPacket reads one framed packet.
func readPacket(r io.Reader) (packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return packet{}, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	typ := packetType(binary.LittleEndian.Uint32(hdr[4:8]))
	if length < headerSize || length > maxPacketSize {
		return packet{}, fmt.Errorf("%w: packet length %d", ErrProtocol, length)
	}
	payload := make([]byte, length-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, err
	}
	return packet{typ: typ, payload: payload}, nil
}

// writePacket frames and writes one packet in a single Write.
func writePacket(w io.Writer, typ packetType, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(typ))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// operationRequest builds an OperationRequest payload.
func operationRequest(phase uint32, op OpCode, txid uint32, params []uint32) []byte {
	e := newEncoder()
	e.u32(phase)
	e.u16(uint16(op))
	e.u32(txid)
	for _, p := range params {
		e.u32(p)
	}
	return e.bytes()
}

// container is a decoded OperationResponse or Event.
type container struct {
	code   uint16
	txid   uint32
	params []uint32
}

func decodeContainer(payload []byte) (container, error) {
	d := newDecoder(payload)
	c := container{code: d.u16(), txid: d.u32()}
	for d.remaining() >= 4 {
		c.params = append(c.params, d.u32())
	}
	if err := d.err(); err != nil {
		return container{}, err
	}
	return c, nil
}

// initCommandRequest builds the InitCommandRequest payload.
func initCommandRequest(guid [16]byte, name string) []byte {
	e := newEncoder()
	e.raw(guid[:])
	e.utf16z(name)
	e.u32(protocolVersion)
	return e.bytes()
}

// initCommandAck is the responder's reply to InitCommandRequest.
type initCommandAck struct {
	connNumber uint32
	guid       [16]byte
	name       string
	version    uint32
}

func decodeInitCommandAck(payload []byte) (initCommandAck, error) {
	d := newDecoder(payload)
	var ack initCommandAck
	ack.connNumber = d.u32()
	copy(ack.guid[:], d.take(16))
	ack.name = d.utf16z()
	ack.version = d.u32()
	return ack, d.err()
}

// initFailReason extracts the reason code from an InitFail payload.
func initFailReason(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(payload)
}

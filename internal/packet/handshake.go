package packet

import "encoding/json"

// OpenHandshake is the JSON payload carried by an Engine.IO OPEN packet,
// per spec.md §3 and §6.
type OpenHandshake struct {
	Sid          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// EncodeOpen builds the OPEN Engine.IO packet for h.
func EncodeOpen(h OpenHandshake) (EnginePacket, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return EnginePacket{}, err
	}
	return EnginePacket{Type: EngineOpen, Data: data}, nil
}

// DecodeOpen parses the data of an Engine.IO OPEN packet.
func DecodeOpen(data []byte) (OpenHandshake, error) {
	var h OpenHandshake
	err := json.Unmarshal(data, &h)
	return h, err
}

// ConnectAck is the JSON payload of a Socket.IO CONNECT packet sent from
// server to client in reply to a client's CONNECT, per spec.md §4.5.
type ConnectAck struct {
	Sid string `json:"sid"`
}

// EncodeConnectAck marshals a ConnectAck.
func EncodeConnectAck(sid string) (json.RawMessage, error) {
	return json.Marshal(ConnectAck{Sid: sid})
}
